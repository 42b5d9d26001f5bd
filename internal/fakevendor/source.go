// Package fakevendor は移行元・移行先ベンダーREST APIのインメモリ実装を提供する。
// クライアントの結合テストと、ローカルでの動作確認用サーバで使う。
package fakevendor

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"krest/pkg/httputil"
)

// KeyBlock は移行元オブジェクトの鍵素材。
type KeyBlock struct {
	KeyMaterial string `json:"KEY_MATERIAL"`
	KeyFormat   string `json:"KEY_FORMAT"`
}

// ManagedObject は移行元が返す管理オブジェクト。
type ManagedObject struct {
	UUID                   string    `json:"uuid"`
	Alias                  string    `json:"alias,omitempty"`
	Name                   string    `json:"name,omitempty"`
	KeyType                string    `json:"keyType,omitempty"`
	ObjectType             string    `json:"objectType,omitempty"`
	KeyAlgorithm           string    `json:"keyAlgorithm,omitempty"`
	KeyLength              string    `json:"keyLength,omitempty"`
	CryptographicLength    string    `json:"cryptographicLength,omitempty"`
	CryptographicUsageMask string    `json:"cryptographicUsageMask,omitempty"`
	KeyBlock               *KeyBlock `json:"keyBlock,omitempty"`
	CustomAttributes       string    `json:"customAttributes,omitempty"`
	Type                   string    `json:"type,omitempty"`
	State                  string    `json:"state,omitempty"`
	Digest                 string    `json:"digest,omitempty"`
	KeyStoreName           string    `json:"keyStoreName,omitempty"`
	KeyStoreUUID           string    `json:"keyStoreUuid,omitempty"`
}

// summary は一覧用に鍵素材を除いたコピーを返す。
func (o ManagedObject) summary() ManagedObject {
	o.KeyBlock = nil
	return o
}

func (o ManagedObject) kind() string {
	if o.KeyType != "" {
		return o.KeyType
	}
	return o.ObjectType
}

type keyJSON struct {
	UUID         string `json:"uuid"`
	Alias        string `json:"alias"`
	KeyStoreName string `json:"keyStoreName,omitempty"`
	KeyStoreUUID string `json:"keyStoreUuid,omitempty"`
	Usage        string `json:"usage,omitempty"`
	KeyType      string `json:"keyType,omitempty"`
}

func (o ManagedObject) key() keyJSON {
	return keyJSON{
		UUID:         o.UUID,
		Alias:        o.Alias,
		KeyStoreName: o.KeyStoreName,
		KeyStoreUUID: o.KeyStoreUUID,
		Usage:        o.CryptographicUsageMask,
		KeyType:      o.kind(),
	}
}

type sourceClientRecord struct {
	name    string
	users   []string
	objects []string // UUID
}

type clientJSON struct {
	ClientName         string   `json:"clientName"`
	ManagedObjectCount int      `json:"managedObjectCount"`
	Object             string   `json:"object"`
	Users              []string `json:"users"`
}

// Source はKMIP鍵管理サーバのREST APIを模したサーバ。
type Source struct {
	mu        sync.Mutex
	user      string
	password  string
	sessions  map[string]bool
	clients   []*sourceClientRecord
	objects   map[string]ManagedObject
	failures  map[string]int
	userCalls []string
	exports   []string
}

// NewSource は user/password でログインできる Source を生成する。
func NewSource(user, password string) *Source {
	return &Source{
		user:     user,
		password: password,
		sessions: make(map[string]bool),
		objects:  make(map[string]ManagedObject),
		failures: make(map[string]int),
	}
}

// AddClient はKMIPクライアントを追加する。
func (s *Source) AddClient(name string, users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, &sourceClientRecord{name: name, users: users})
}

// AddObject はクライアントに管理オブジェクトを追加する。UUID が空なら採番する。
func (s *Source) AddObject(client string, obj ManagedObject) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj.UUID == "" {
		obj.UUID = uuid.New().String()
	}
	s.objects[obj.UUID] = obj
	if c := s.client(client); c != nil {
		c.objects = append(c.objects, obj.UUID)
	}
	return obj.UUID
}

// FailObject は詳細取得で status を返すようにする。
func (s *Source) FailObject(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = status
}

// ClientUsers はクライアントの現在のユーザー構成を返す。
func (s *Source) ClientUsers(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.client(name); c != nil {
		return slices.Clone(c.users)
	}
	return nil
}

// UserCalls は assignUsers/removeUsers の呼び出し履歴を "action client users" 形式で返す。
func (s *Source) UserCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.userCalls)
}

// KeyExports は keys/export で要求された別名を順に返す。
func (s *Source) KeyExports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.exports)
}

// keys はクライアントへの登録順に鍵（別名を持つオブジェクト）を返す。
func (s *Source) keys() []ManagedObject {
	var keys []ManagedObject
	for _, c := range s.clients {
		for _, id := range c.objects {
			if obj := s.objects[id]; obj.Alias != "" {
				keys = append(keys, obj)
			}
		}
	}
	return keys
}

func (s *Source) client(name string) *sourceClientRecord {
	for _, c := range s.clients {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Handler はルーターを返す。
func (s *Source) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/SKLM/rest/v1", func(r chi.Router) {
		r.Post("/ckms/login", s.login)
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/clients", s.listClients)
			r.Put("/clients/{client}/{action}", s.updateUsers)
			r.Get("/objects", s.listObjects)
			r.Get("/objects/{uuid}", s.getObject)
			r.Get("/keys", s.listKeys)
			r.Post("/keys/export/{alias}", s.exportKey)
		})
	})
	return r
}

func (s *Source) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userid"`
		Password string `json:"password"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.UserID != s.user || req.Password != s.password {
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.sessions[id] = true
	s.mu.Unlock()
	httputil.JSON(w, http.StatusOK, map[string]string{"UserAuthId": id})
}

func (s *Source) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if _, err := fmt.Sscanf(r.Header.Get("Authorization"), "SKLMAuth UserAuthId=%s", &id); err != nil {
			httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
			return
		}
		s.mu.Lock()
		ok := s.sessions[id]
		s.mu.Unlock()
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Source) listClients(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]clientJSON, 0, len(s.clients))
	for _, c := range s.clients {
		counts := make(map[string]int)
		for _, id := range c.objects {
			counts[s.objects[id].kind()]++
		}
		var summary string
		for _, kind := range []struct{ key, label string }{
			{"SYMMETRIC_KEY", "Symmetric Key"},
			{"SECRET_DATA", "Secret Data"},
			{"CERTIFICATE", "Certificate"},
		} {
			if n := counts[kind.key]; n > 0 {
				summary += fmt.Sprintf("%s (%d) ", kind.label, n)
			}
		}
		clients = append(clients, clientJSON{
			ClientName:         c.name,
			ManagedObjectCount: len(c.objects),
			Object:             summary,
			Users:              slices.Clone(c.users),
		})
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"client": clients})
}

func (s *Source) updateUsers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Users []string `json:"users"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.client(chi.URLParam(r, "client"))
	if c == nil {
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "client not found")
		return
	}

	action := chi.URLParam(r, "action")
	switch action {
	case "assignUsers":
		for _, u := range req.Users {
			if !slices.Contains(c.users, u) {
				c.users = append(c.users, u)
			}
		}
	case "removeUsers":
		c.users = slices.DeleteFunc(c.users, func(u string) bool { return slices.Contains(req.Users, u) })
	default:
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "unknown action")
		return
	}
	s.userCalls = append(s.userCalls, fmt.Sprintf("%s %s %v", action, c.name, req.Users))
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Source) listObjects(w http.ResponseWriter, r *http.Request) {
	objectType := r.URL.Query().Get("objectType")
	clientName := r.URL.Query().Get("clientName")

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if clientName != "" {
		c := s.client(clientName)
		if c == nil {
			httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "client not found")
			return
		}
		ids = c.objects
	} else {
		for _, c := range s.clients {
			ids = append(ids, c.objects...)
		}
	}

	objects := make([]ManagedObject, 0, len(ids))
	for _, id := range ids {
		obj := s.objects[id]
		if objectType == "" || obj.kind() == objectType {
			objects = append(objects, obj.summary())
		}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"managedObject": objects})
}

func (s *Source) getObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.failures[id]; ok {
		httputil.Error(w, status, "FAILED", "object unavailable")
		return
	}
	obj, ok := s.objects[id]
	if !ok {
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "object not found")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"managedObject": obj})
}

func (s *Source) listKeys(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]keyJSON, 0)
	for _, obj := range s.keys() {
		keys = append(keys, obj.key())
	}
	httputil.JSON(w, http.StatusOK, keys)
}

func (s *Source) exportKey(w http.ResponseWriter, r *http.Request) {
	alias, err := url.PathUnescape(chi.URLParam(r, "alias"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid alias")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.keys() {
		if obj.Alias == alias {
			s.exports = append(s.exports, alias)
			httputil.JSON(w, http.StatusOK, obj.key())
			return
		}
	}
	httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "key not found")
}
