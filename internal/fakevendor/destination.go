package fakevendor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"krest/internal/domain"
	"krest/pkg/httputil"
)

// DefaultTokenTTL は発行するJWTの有効期間。
const DefaultTokenTTL = 5 * time.Minute

type destinationUserJSON struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

type destinationGroupJSON struct {
	Name  string   `json:"name"`
	Users []string `json:"users,omitempty"`
}

// Destination はボールト型鍵管理サーバのREST APIを模したサーバ。
type Destination struct {
	mu         sync.Mutex
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
	users      []destinationUserJSON
	passwords  map[string]string
	groups     []*destinationGroupJSON
	objects    []*domain.DestinationObject
	createFail map[string]int
	omitID     bool
	logins     int
	patches    []domain.ObjectPatch
	exports    []string
}

// NewDestination は user/password でログインできる Destination を生成する。
func NewDestination(user, password string) *Destination {
	d := &Destination{
		signingKey: []byte(uuid.New().String()),
		ttl:        DefaultTokenTTL,
		now:        time.Now,
		passwords:  make(map[string]string),
		createFail: make(map[string]int),
	}
	d.AddUser(user, password, user)
	return d
}

// AddUser はユーザーを追加し、そのIDを返す。
func (d *Destination) AddUser(name, password, nickname string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := "local|" + uuid.New().String()
	d.users = append(d.users, destinationUserJSON{UserID: id, Name: name, Nickname: nickname})
	d.passwords[name] = password
	return id
}

// AddGroup は既存のグループを追加する。
func (d *Destination) AddGroup(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = append(d.groups, &destinationGroupJSON{Name: name})
}

// AddObject は既存のオブジェクトを追加する。ID が空なら採番する。
func (d *Destination) AddObject(obj domain.DestinationObject) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store(obj).ID
}

// FailCreate は name の作成要求に status を返すようにする。
func (d *Destination) FailCreate(name string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createFail[name] = status
}

// OmitCreatedID は作成レスポンスを空にする。
func (d *Destination) OmitCreatedID() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.omitID = true
}

// Objects は保存されているオブジェクトを作成順に返す。
func (d *Destination) Objects() []domain.DestinationObject {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.DestinationObject, len(d.objects))
	for i, o := range d.objects {
		out[i] = *o
	}
	return out
}

// Group はグループを返す。
func (d *Destination) Group(name string) (users []string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g := d.group(name); g != nil {
		return slices.Clone(g.Users), true
	}
	return nil, false
}

// Logins はログイン成功回数を返す。
func (d *Destination) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

// Patches は受け付けた部分更新を順に返す。
func (d *Destination) Patches() []domain.ObjectPatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.patches)
}

// Exports はエクスポートされたオブジェクトIDを返す。
func (d *Destination) Exports() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.exports)
}

// Handler はルーターを返す。
func (d *Destination) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/tokens/", d.login)
		r.Group(func(r chi.Router) {
			r.Use(d.requireJWT)
			r.Get("/usermgmt/users/self", d.self)
			r.Get("/usermgmt/users", d.listUsers)
			r.Get("/usermgmt/groups/", d.listGroups)
			r.Post("/usermgmt/groups", d.createGroup)
			r.Post("/usermgmt/groups/{group}/users/{user}", d.addUserToGroup)
			r.Post("/vault/keys2", d.create)
			r.Post("/vault/secrets", d.create)
			r.Get("/vault/keys2/", d.listObjects)
			r.Patch("/vault/keys2/{id}", d.patchObject)
			r.Post("/vault/keys2/{id}/export", d.export)
		})
	})
	return r
}

func (d *Destination) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	pw, ok := d.passwords[req.Name]
	if !ok || pw != req.Password {
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	now := d.now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   req.Name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d.ttl)),
	}).SignedString(d.signingKey)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to sign token")
		return
	}
	d.logins++
	httputil.JSON(w, http.StatusOK, map[string]string{"jwt": signed})
}

func (d *Destination) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return d.signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(d.now))
		if err != nil {
			httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithSubject(r, claims.Subject)))
	})
}

func (d *Destination) self(w http.ResponseWriter, r *http.Request) {
	name := subjectFrom(r)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Name == name {
			httputil.JSON(w, http.StatusOK, u)
			return
		}
	}
	httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "user not found")
}

func (d *Destination) listUsers(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	httputil.JSON(w, http.StatusOK, map[string]any{"resources": d.users, "total": len(d.users)})
}

func (d *Destination) listGroups(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", 10)
	if limit == 0 {
		limit = 10
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	groups := d.groups[:min(limit, len(d.groups))]
	httputil.JSON(w, http.StatusOK, map[string]any{"resources": groups, "total": len(d.groups)})
}

func (d *Destination) createGroup(w http.ResponseWriter, r *http.Request) {
	var req destinationGroupJSON
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group(req.Name) != nil {
		httputil.Error(w, http.StatusConflict, "CONFLICT", "group already exists")
		return
	}
	g := &destinationGroupJSON{Name: req.Name}
	d.groups = append(d.groups, g)
	httputil.JSON(w, http.StatusCreated, g)
}

func (d *Destination) addUserToGroup(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.group(chi.URLParam(r, "group"))
	if g == nil {
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "group not found")
		return
	}
	g.Users = append(g.Users, chi.URLParam(r, "user"))
	httputil.JSON(w, http.StatusOK, g)
}

func (d *Destination) create(w http.ResponseWriter, r *http.Request) {
	var obj domain.DestinationObject
	if !httputil.DecodeJSON(w, r, &obj) {
		return
	}
	if obj.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if status, ok := d.createFail[obj.Name]; ok {
		httputil.Error(w, status, "REJECTED", "object rejected")
		return
	}
	for _, existing := range d.objects {
		if existing.Name == obj.Name {
			httputil.Error(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("object %q already exists", obj.Name))
			return
		}
	}

	stored := d.store(obj)
	if d.omitID {
		w.WriteHeader(http.StatusCreated)
		return
	}
	httputil.JSON(w, http.StatusCreated, stored)
}

func (d *Destination) listObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	d.mu.Lock()
	defer d.mu.Unlock()

	if name := q.Get("name"); name != "" {
		var found []*domain.DestinationObject
		for _, o := range d.objects {
			if o.Name == name {
				found = append(found, o)
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]any{"resources": found, "total": len(found)})
		return
	}

	skip := httputil.QueryInt(r, "skip", 0)
	limit := httputil.QueryInt(r, "limit", 10)
	if limit == 0 {
		limit = 10
	}
	start := min(skip, len(d.objects))
	end := min(start+limit, len(d.objects))
	httputil.JSON(w, http.StatusOK, map[string]any{"resources": d.objects[start:end], "total": len(d.objects), "skip": skip, "limit": limit})
}

func (d *Destination) patchObject(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "id" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type=id is required")
		return
	}
	var patch domain.ObjectPatch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.object(chi.URLParam(r, "id"))
	if obj == nil {
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "object not found")
		return
	}
	if patch.Meta != nil && patch.Meta.Permissions != nil {
		for _, groups := range patch.Meta.Permissions {
			for _, g := range groups {
				if d.group(g) == nil {
					httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("unknown group %q", g))
					return
				}
			}
		}
		obj.Meta.Permissions = patch.Meta.Permissions
	}
	if patch.Aliases != nil {
		obj.Aliases = patch.Aliases
	}
	d.patches = append(d.patches, patch)
	httputil.JSON(w, http.StatusOK, obj)
}

func (d *Destination) export(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.object(chi.URLParam(r, "id"))
	if obj == nil {
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "object not found")
		return
	}
	if obj.Unexportable {
		httputil.Error(w, http.StatusForbidden, "FORBIDDEN", "object is unexportable")
		return
	}
	d.exports = append(d.exports, obj.ID)
	httputil.JSON(w, http.StatusOK, map[string]string{
		"id":       obj.ID,
		"name":     obj.Name,
		"material": obj.Material,
		"format":   obj.Format,
	})
}

// store は採番とフィンガープリント計算を行って保存する。呼び出し側でロックを取る。
func (d *Destination) store(obj domain.DestinationObject) *domain.DestinationObject {
	if obj.ID == "" {
		obj.ID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if obj.UUID == "" {
		obj.UUID = uuid.New().String()
	}
	if obj.Fingerprint == "" && obj.Material != "" {
		sum := sha256.Sum256([]byte(obj.Material))
		obj.Fingerprint = hex.EncodeToString(sum[:])
	}
	stored := &obj
	d.objects = append(d.objects, stored)
	return stored
}

func (d *Destination) object(id string) *domain.DestinationObject {
	for _, o := range d.objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (d *Destination) group(name string) *destinationGroupJSON {
	for _, g := range d.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}
