package infra

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"krest/internal/domain"
)

const sourcePrefix = "/SKLM/rest/v1/"

// sourceLoginRequest は ckms/login のリクエストボディ。
type sourceLoginRequest struct {
	UserID   string `json:"userid"`
	Password string `json:"password"`
}

type sourceLoginResponse struct {
	UserAuthID string `json:"UserAuthId"`
}

type sourceClient struct {
	ClientName         string   `json:"clientName"`
	ManagedObjectCount int      `json:"managedObjectCount"`
	Object             string   `json:"object"`
	Users              []string `json:"users"`
}

type sourceClientsResponse struct {
	Client []sourceClient `json:"client"`
}

type sourceKeyBlock struct {
	KeyMaterial string `json:"KEY_MATERIAL"`
	KeyFormat   string `json:"KEY_FORMAT"`
}

// sourceManagedObject は objects / objects/{uuid} が返す管理オブジェクト。
// 一覧では keyBlock を含まない。
type sourceManagedObject struct {
	UUID                   string         `json:"uuid"`
	Alias                  string         `json:"alias"`
	Name                   string         `json:"name"`
	KeyType                string         `json:"keyType"`
	ObjectType             string         `json:"objectType"`
	KeyAlgorithm           string         `json:"keyAlgorithm"`
	KeyLength              string         `json:"keyLength"`
	CryptographicLength    string         `json:"cryptographicLength"`
	CryptographicUsageMask string         `json:"cryptographicUsageMask"`
	KeyBlock               sourceKeyBlock `json:"keyBlock"`
	CustomAttributes       string         `json:"customAttributes"`
	Type                   string         `json:"type"`
	State                  string         `json:"state"`
	Digest                 string         `json:"digest"`
}

type sourceObjectsResponse struct {
	ManagedObject []sourceManagedObject `json:"managedObject"`
}

type sourceObjectResponse struct {
	ManagedObject sourceManagedObject `json:"managedObject"`
}

// sourceKey は keys / keys/export/{alias} が返す鍵の概要。
type sourceKey struct {
	UUID         string `json:"uuid"`
	Alias        string `json:"alias"`
	KeyStoreName string `json:"keyStoreName"`
	KeyStoreUUID string `json:"keyStoreUuid"`
	Usage        string `json:"usage"`
	KeyType      string `json:"keyType"`
}

func (k sourceKey) toDomain() domain.KeyEntry {
	return domain.KeyEntry{
		UUID:         k.UUID,
		Alias:        k.Alias,
		KeyStoreName: k.KeyStoreName,
		KeyStoreUUID: k.KeyStoreUUID,
		Usage:        k.Usage,
		KeyType:      k.KeyType,
	}
}

type sourceUsersRequest struct {
	Users []string `json:"users"`
}

// SourceClient は移行元（KMIP鍵管理サーバ）のREST APIクライアント。
type SourceClient struct {
	rest *resty.Client
}

// NewSourceClient は baseURL（https://host:port）に接続する SourceClient を生成する。
func NewSourceClient(baseURL string, opts HTTPOptions) *SourceClient {
	return &SourceClient{rest: newRESTClient(baseURL, sourcePrefix, opts)}
}

// Login は ckms/login でログインし UserAuthId を取得する。
func (c *SourceClient) Login(ctx context.Context, cred domain.Credential) (domain.AuthToken, error) {
	const op = "source login"
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(sourceLoginRequest{UserID: cred.Username, Password: cred.Password}).
		Post("ckms/login")
	if err := checkResponse(op, domain.ErrAuthentication, resp, err, http.StatusOK); err != nil {
		return domain.AuthToken{}, err
	}

	var result sourceLoginResponse
	if err := decodeJSON(op, domain.ErrAuthentication, resp, &result); err != nil {
		return domain.AuthToken{}, err
	}
	return domain.AuthToken{Value: "UserAuthId=" + result.UserAuthID, Scheme: "SKLMAuth"}, nil
}

// ListClients はKMIPクライアントの一覧を返す。
func (c *SourceClient) ListClients(ctx context.Context, tok domain.AuthToken) ([]domain.Client, error) {
	const op = "list source clients"
	resp, err := c.authed(ctx, tok).Get("clients")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return nil, err
	}

	var result sourceClientsResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return nil, err
	}

	clients := make([]domain.Client, 0, len(result.Client))
	for _, sc := range result.Client {
		clients = append(clients, domain.Client{
			Name:               sc.ClientName,
			ManagedObjectCount: sc.ManagedObjectCount,
			ObjectSummary:      sc.Object,
			Users:              sc.Users,
		})
	}
	return clients, nil
}

// ListObjects は種別とクライアントで絞り込んだ管理オブジェクトの概要を返す。鍵素材は含まない。
func (c *SourceClient) ListObjects(ctx context.Context, tok domain.AuthToken, objectType domain.ObjectType, clientName string) ([]domain.SourceObject, error) {
	const op = "list source objects"
	query := url.Values{"objectType": {string(objectType)}}
	if clientName != "" {
		query.Set("clientName", clientName)
	}

	resp, err := c.authed(ctx, tok).SetQueryParamsFromValues(query).Get("objects")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return nil, err
	}

	var result sourceObjectsResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return nil, err
	}

	objects := make([]domain.SourceObject, 0, len(result.ManagedObject))
	for _, mo := range result.ManagedObject {
		obj := mo.toDomain()
		obj.ClientName = clientName
		objects = append(objects, obj)
	}
	return objects, nil
}

// GetObject は UUID を指定して鍵素材を含む管理オブジェクトを返す。
func (c *SourceClient) GetObject(ctx context.Context, tok domain.AuthToken, uuid string) (domain.SourceObject, error) {
	const op = "get source object"
	resp, err := c.authed(ctx, tok).
		SetPathParam("uuid", uuid).
		Get("objects/{uuid}")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.SourceObject{}, err
	}

	var result sourceObjectResponse
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.SourceObject{}, err
	}
	return result.ManagedObject.toDomain(), nil
}

// ListKeys はユーザーに紐付いた鍵の一覧を返す。クライアント未割り当ての鍵は含まれない。
func (c *SourceClient) ListKeys(ctx context.Context, tok domain.AuthToken) ([]domain.KeyEntry, error) {
	const op = "list source keys"
	resp, err := c.authed(ctx, tok).Get("keys")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return nil, err
	}

	var result []sourceKey
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return nil, err
	}
	keys := make([]domain.KeyEntry, 0, len(result))
	for _, k := range result {
		keys = append(keys, k.toDomain())
	}
	return keys, nil
}

// ExportKey は別名を指定して移行元サーバ上に鍵のエクスポートファイルを作らせる。
func (c *SourceClient) ExportKey(ctx context.Context, tok domain.AuthToken, alias string) (domain.KeyEntry, error) {
	const op = "export source key"
	resp, err := c.authed(ctx, tok).
		SetPathParam("alias", alias).
		Post("keys/export/{alias}")
	if err := checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK); err != nil {
		return domain.KeyEntry{}, err
	}

	var result sourceKey
	if err := decodeJSON(op, domain.ErrRetrieval, resp, &result); err != nil {
		return domain.KeyEntry{}, err
	}
	return result.toDomain(), nil
}

// AssignUsers はクライアントにユーザーを割り当てる。
func (c *SourceClient) AssignUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error {
	return c.putUsers(ctx, tok, "assign source client users", clientName, "assignUsers", users)
}

// RemoveUsers はクライアントからユーザーを外す。
func (c *SourceClient) RemoveUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error {
	return c.putUsers(ctx, tok, "remove source client users", clientName, "removeUsers", users)
}

func (c *SourceClient) putUsers(ctx context.Context, tok domain.AuthToken, op, clientName, action string, users []string) error {
	resp, err := c.authed(ctx, tok).
		SetPathParams(map[string]string{"client": clientName, "action": action}).
		SetBody(sourceUsersRequest{Users: users}).
		Put("clients/{client}/{action}")
	return checkResponse(op, domain.ErrRetrieval, resp, err, http.StatusOK)
}

func (c *SourceClient) authed(ctx context.Context, tok domain.AuthToken) *resty.Request {
	return c.rest.R().SetContext(ctx).SetHeader("Authorization", tok.Header())
}

func (mo sourceManagedObject) toDomain() domain.SourceObject {
	objectType := domain.ParseObjectType(mo.KeyType)
	if objectType == domain.ObjectTypeUnknown {
		objectType = domain.ParseObjectType(mo.ObjectType)
	}
	length := mo.KeyLength
	if length == "" {
		length = mo.CryptographicLength
	}

	return domain.SourceObject{
		UUID:             mo.UUID,
		Alias:            mo.Alias,
		Name:             mo.Name,
		ObjectType:       objectType,
		Algorithm:        mo.KeyAlgorithm,
		Length:           length,
		UsageMask:        mo.CryptographicUsageMask,
		Material:         mo.KeyBlock.KeyMaterial,
		Format:           mo.KeyBlock.KeyFormat,
		CustomAttributes: mo.CustomAttributes,
		SecretType:       mo.Type,
		State:            mo.State,
		Digest:           mo.Digest,
	}
}
