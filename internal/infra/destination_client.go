package infra

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"krest/internal/domain"
)

const destinationPrefix = "/api/v1/"

type destinationLoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type destinationLoginResponse struct {
	JWT string `json:"jwt"`
}

type destinationUser struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

type destinationUsersResponse struct {
	Resources []destinationUser `json:"resources"`
	Total     int               `json:"total"`
}

type destinationGroup struct {
	Name  string   `json:"name"`
	Users []string `json:"users,omitempty"`
}

type destinationGroupsResponse struct {
	Resources []destinationGroup `json:"resources"`
	Total     int                `json:"total"`
}

type destinationObjectsResponse struct {
	Resources []domain.DestinationObject `json:"resources"`
	Total     int                        `json:"total"`
}

type destinationExportResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Material string `json:"material"`
	Format   string `json:"format"`
}

// DestinationClient は移行先（ボールト型鍵管理サーバ）のREST APIクライアント。
type DestinationClient struct {
	rest *resty.Client
}

// NewDestinationClient は baseURL（https://host:port）に接続する DestinationClient を生成する。
func NewDestinationClient(baseURL string, opts HTTPOptions) *DestinationClient {
	return &DestinationClient{rest: newRESTClient(baseURL, destinationPrefix, opts)}
}

// Login は auth/tokens/ でログインしJWTを取得する。
// JWTの exp クレームが読めれば ExpiresAt に設定する（署名は検証しない）。
func (c *DestinationClient) Login(ctx context.Context, cred domain.Credential) (domain.AuthToken, error) {
	const op = "destination login"
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(destinationLoginRequest{Name: cred.Username, Password: cred.Password}).
		Post("auth/tokens/")
	if err := checkResponse(op, domain.ErrAuthentication, resp, err, http.StatusOK); err != nil {
		return domain.AuthToken{}, err
	}

	var result destinationLoginResponse
	if err := decodeJSON(op, domain.ErrAuthentication, resp, &result); err != nil {
		return domain.AuthToken{}, err
	}
	if result.JWT == "" {
		return domain.AuthToken{}, fmt.Errorf("%s: %w: empty jwt", op, domain.ErrAuthentication)
	}

	return domain.AuthToken{
		Value:     result.JWT,
		Scheme:    "Bearer",
		ExpiresAt: jwtExpiry(result.JWT),
	}, nil
}

// jwtExpiry は署名を検証せずに exp クレームを読む。読めなければゼロ値を返す。
func jwtExpiry(raw string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Self はログイン中のユーザーを返す。
func (c *DestinationClient) Self(ctx context.Context, tok domain.AuthToken) (domain.User, error) {
	const op = "get destination self"
	resp, err := c.authed(ctx, tok).Get("usermgmt/users/self")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.User{}, err
	}

	var result destinationUser
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.User{}, err
	}
	return result.toDomain(), nil
}

// Users は移行先の全ユーザーを返す。
func (c *DestinationClient) Users(ctx context.Context, tok domain.AuthToken) ([]domain.User, error) {
	const op = "list destination users"
	resp, err := c.authed(ctx, tok).Get("usermgmt/users")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return nil, err
	}

	var result destinationUsersResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(result.Resources))
	for _, u := range result.Resources {
		users = append(users, u.toDomain())
	}
	return users, nil
}

// Groups は最大 limit 件のユーザーグループを返す。
func (c *DestinationClient) Groups(ctx context.Context, tok domain.AuthToken, limit int) ([]domain.Group, error) {
	const op = "list destination groups"
	resp, err := c.authed(ctx, tok).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get("usermgmt/groups/")
	if err := checkResponse(op, domain.ErrGroup, resp, err, http.StatusOK); err != nil {
		return nil, err
	}

	var result destinationGroupsResponse
	if err := decodeJSON(op, domain.ErrGroup, resp, &result); err != nil {
		return nil, err
	}

	groups := make([]domain.Group, 0, len(result.Resources))
	for _, g := range result.Resources {
		groups = append(groups, domain.Group{Name: g.Name, Users: g.Users})
	}
	return groups, nil
}

// CreateGroup はユーザーグループを作成する。
func (c *DestinationClient) CreateGroup(ctx context.Context, tok domain.AuthToken, name string) (domain.Group, error) {
	const op = "create destination group"
	resp, err := c.authed(ctx, tok).
		SetBody(destinationGroup{Name: name}).
		Post("usermgmt/groups")
	if err := checkResponse(op, domain.ErrGroup, resp, err, http.StatusCreated); err != nil {
		return domain.Group{}, err
	}

	var result destinationGroup
	if err := decodeJSON(op, domain.ErrGroup, resp, &result); err != nil {
		return domain.Group{}, err
	}
	return domain.Group{Name: result.Name, Users: result.Users}, nil
}

// AddUserToGroup はユーザーをグループに追加する。
func (c *DestinationClient) AddUserToGroup(ctx context.Context, tok domain.AuthToken, group, userID string) error {
	resp, err := c.authed(ctx, tok).
		SetPathParams(map[string]string{"group": group, "user": userID}).
		Post("usermgmt/groups/{group}/users/{user}")
	return checkResponse("add user to destination group", domain.ErrGroup, resp, err, http.StatusOK)
}

// CreateKey は鍵を作成する。201 以外は ErrUpload。
func (c *DestinationClient) CreateKey(ctx context.Context, tok domain.AuthToken, obj domain.DestinationObject) (domain.DestinationObject, error) {
	return c.create(ctx, tok, "create destination key", "vault/keys2", obj)
}

// CreateSecret はシークレットを作成する。201 以外は ErrUpload。
func (c *DestinationClient) CreateSecret(ctx context.Context, tok domain.AuthToken, obj domain.DestinationObject) (domain.DestinationObject, error) {
	return c.create(ctx, tok, "create destination secret", "vault/secrets", obj)
}

func (c *DestinationClient) create(ctx context.Context, tok domain.AuthToken, op, path string, obj domain.DestinationObject) (domain.DestinationObject, error) {
	resp, err := c.authed(ctx, tok).SetBody(obj).Post(path)
	if err := checkResponse(op, domain.ErrUpload, resp, err, http.StatusCreated); err != nil {
		return domain.DestinationObject{}, err
	}

	var created domain.DestinationObject
	if len(resp.Body()) == 0 {
		return created, nil
	}
	if err := decodeJSON(op, domain.ErrUpload, resp, &created); err != nil {
		return domain.DestinationObject{}, err
	}
	return created, nil
}

// FindByName は名前でオブジェクトを検索し、最初の1件を返す。
func (c *DestinationClient) FindByName(ctx context.Context, tok domain.AuthToken, name string) (domain.DestinationObject, error) {
	const op = "find destination object"
	resp, err := c.authed(ctx, tok).
		SetQueryParam("name", name).
		Get("vault/keys2/")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.DestinationObject{}, err
	}

	var result destinationObjectsResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.DestinationObject{}, err
	}
	if len(result.Resources) == 0 {
		return domain.DestinationObject{}, &domain.APIError{
			Kind:       domain.ErrRetrieval,
			Operation:  op,
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("no object named %q", name),
		}
	}
	return result.Resources[0], nil
}

// PatchObject は ID 指定でオブジェクトを部分更新する。
func (c *DestinationClient) PatchObject(ctx context.Context, tok domain.AuthToken, id string, patch domain.ObjectPatch) error {
	resp, err := c.authed(ctx, tok).
		SetPathParam("id", id).
		SetQueryParam("type", "id").
		SetBody(patch).
		Patch("vault/keys2/{id}")
	return checkResponse("patch destination object", domain.ErrGroup, resp, err, http.StatusOK)
}

// ListPage は skip 件目から最大 limit 件のオブジェクトと総件数を返す。
func (c *DestinationClient) ListPage(ctx context.Context, tok domain.AuthToken, skip, limit int) (domain.ObjectPage, error) {
	op := fmt.Sprintf("list destination objects (skip %d, limit %d)", skip, limit)
	resp, err := c.authed(ctx, tok).
		SetQueryParam("skip", strconv.Itoa(skip)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get("vault/keys2/")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.ObjectPage{}, err
	}

	var result destinationObjectsResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.ObjectPage{}, err
	}
	return domain.ObjectPage{Resources: result.Resources, Total: result.Total}, nil
}

// Export は鍵素材をエクスポートする。
func (c *DestinationClient) Export(ctx context.Context, tok domain.AuthToken, id string) (domain.ExportedMaterial, error) {
	const op = "export destination object"
	resp, err := c.authed(ctx, tok).
		SetPathParam("id", id).
		Post("vault/keys2/{id}/export")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.ExportedMaterial{}, err
	}

	var result destinationExportResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.ExportedMaterial{}, err
	}
	return domain.ExportedMaterial{
		ID:       result.ID,
		Name:     result.Name,
		Material: result.Material,
		Format:   result.Format,
	}, nil
}

func (c *DestinationClient) authed(ctx context.Context, tok domain.AuthToken) *resty.Request {
	return c.rest.R().SetContext(ctx).SetHeader("Authorization", tok.Header())
}

func (u destinationUser) toDomain() domain.User {
	return domain.User{ID: u.UserID, Name: u.Name, Nickname: u.Nickname}
}
