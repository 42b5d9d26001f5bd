package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"krest/internal/domain"
)

// staticTokenSource は常に同じトークンを返す。
type staticTokenSource struct {
	calls int
	err   error
}

func (s *staticTokenSource) Token(ctx context.Context) (domain.AuthToken, error) {
	s.calls++
	if s.err != nil {
		return domain.AuthToken{}, s.err
	}
	return domain.AuthToken{Value: "token", Scheme: "Bearer"}, nil
}

// mockSourceAPI はテスト用の移行元モック。
type mockSourceAPI struct {
	clients    []domain.Client
	listErr    error
	summaries  map[string][]domain.SourceObject // client/type -> 概要
	details    map[string]domain.SourceObject
	getErr     map[string]error
	getCalls   []string
	assigned   [][]string
	removed    [][]string
	removeErr  error
	objectsErr error
}

func newMockSourceAPI() *mockSourceAPI {
	return &mockSourceAPI{
		summaries: make(map[string][]domain.SourceObject),
		details:   make(map[string]domain.SourceObject),
		getErr:    make(map[string]error),
	}
}

func (m *mockSourceAPI) addObject(client string, obj domain.SourceObject) {
	key := client + "/" + string(obj.ObjectType)
	m.summaries[key] = append(m.summaries[key], domain.SourceObject{UUID: obj.UUID, ObjectType: obj.ObjectType})
	m.details[obj.UUID] = obj
}

func (m *mockSourceAPI) ListClients(ctx context.Context, tok domain.AuthToken) ([]domain.Client, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.clients, nil
}

func (m *mockSourceAPI) ListObjects(ctx context.Context, tok domain.AuthToken, objectType domain.ObjectType, clientName string) ([]domain.SourceObject, error) {
	if m.objectsErr != nil {
		return nil, m.objectsErr
	}
	return m.summaries[clientName+"/"+string(objectType)], nil
}

func (m *mockSourceAPI) GetObject(ctx context.Context, tok domain.AuthToken, uuid string) (domain.SourceObject, error) {
	m.getCalls = append(m.getCalls, uuid)
	if err, ok := m.getErr[uuid]; ok {
		return domain.SourceObject{}, err
	}
	obj, ok := m.details[uuid]
	if !ok {
		return domain.SourceObject{}, &domain.APIError{Kind: domain.ErrRetrieval, Operation: "get object", StatusCode: 404}
	}
	return obj, nil
}

func (m *mockSourceAPI) AssignUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error {
	m.assigned = append(m.assigned, append([]string{clientName}, users...))
	return nil
}

func (m *mockSourceAPI) RemoveUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error {
	m.removed = append(m.removed, append([]string{clientName}, users...))
	return m.removeErr
}

func sourceKey(uuid, alias, attrs string) domain.SourceObject {
	return domain.SourceObject{
		UUID:             uuid,
		Alias:            "[" + alias + "]",
		ObjectType:       domain.ObjectTypeSymmetricKey,
		Algorithm:        "AES",
		Length:           "256",
		UsageMask:        "Encrypt Decrypt",
		Material:         "00112233",
		Format:           "RAW",
		CustomAttributes: attrs,
	}
}

func sourceSecret(uuid, name string) domain.SourceObject {
	return domain.SourceObject{
		UUID:       uuid,
		Name:       "[NAME Name VALUE " + name + "]",
		ObjectType: domain.ObjectTypeSecretData,
		Length:     "128",
		UsageMask:  "Encrypt",
		Material:   "aabbcc",
		Format:     "OPAQUE",
		SecretType: "PASSWORD",
		State:      "PRE_ACTIVE",
	}
}

var keyTypes = []domain.ObjectType{domain.ObjectTypeSymmetricKey}

func TestSourceReader_Retrieve(t *testing.T) {
	api := newMockSourceAPI()
	api.clients = []domain.Client{
		{Name: "c1", ObjectSummary: "Symmetric Key (2) Secret Data (1)", Users: []string{"admin"}},
		{Name: "c2", ObjectSummary: "Certificate (3)", Users: []string{"admin"}},
	}
	api.addObject("c1", sourceKey("k-1", "one", ""))
	api.addObject("c1", sourceKey("k-2", "two", ""))
	api.addObject("c1", sourceSecret("s-1", "pw"))

	reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, "")

	inv, err := reader.Retrieve(context.Background(), RetrieveOptions{
		Types: []domain.ObjectType{domain.ObjectTypeSymmetricKey, domain.ObjectTypeSecretData},
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(inv.Keys) != 2 || len(inv.Secrets) != 1 {
		t.Fatalf("keys = %d, secrets = %d, want 2 and 1", len(inv.Keys), len(inv.Secrets))
	}
	if inv.Listed != 3 || inv.Retrieved != 3 {
		t.Errorf("Listed = %d, Retrieved = %d, want 3 and 3", inv.Listed, inv.Retrieved)
	}
	for _, obj := range inv.Objects() {
		if obj.ClientName != "c1" {
			t.Errorf("ClientName = %q, want c1", obj.ClientName)
		}
	}
	if len(api.assigned) != 0 {
		t.Errorf("ownership should not be changed, got %v", api.assigned)
	}
}

func TestSourceReader_Retrieve_ListFailureIsFatal(t *testing.T) {
	api := newMockSourceAPI()
	api.listErr = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "list clients", StatusCode: 500}

	reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, "")

	if _, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes}); !errors.Is(err, domain.ErrRetrieval) {
		t.Errorf("Retrieve() error = %v, want ErrRetrieval", err)
	}
}

func TestSourceReader_Retrieve_ClientSelection(t *testing.T) {
	api := newMockSourceAPI()
	api.clients = []domain.Client{
		{Name: "c1", ObjectSummary: "Symmetric Key (1)"},
		{Name: "empty", ObjectSummary: "Certificate (2)"},
	}
	api.addObject("c1", sourceKey("k-1", "one", ""))

	reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, "")

	tests := []struct {
		name    string
		client  string
		wantErr error
	}{
		{name: "unknown client", client: "missing", wantErr: domain.ErrClientNotFound},
		{name: "client without keys", client: "empty", wantErr: domain.ErrClientEmpty},
		{name: "existing client", client: "c1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := reader.Retrieve(context.Background(), RetrieveOptions{
				Types:  keyTypes,
				Filter: domain.Filter{ClientName: tt.client},
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Retrieve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if len(inv.Keys) != 1 {
				t.Errorf("len(Keys) = %d, want 1", len(inv.Keys))
			}
		})
	}
}

func TestSourceReader_Retrieve_UUIDFilterSkipsDetails(t *testing.T) {
	api := newMockSourceAPI()
	api.clients = []domain.Client{{Name: "c1", ObjectSummary: "Symmetric Key (3)"}}
	api.addObject("c1", sourceKey("aaa-111", "one", ""))
	api.addObject("c1", sourceKey("bbb-222", "two", ""))
	api.addObject("c1", sourceKey("ccc-111", "three", ""))

	reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, "")

	inv, err := reader.Retrieve(context.Background(), RetrieveOptions{
		Types:  keyTypes,
		Filter: domain.Filter{UUID: "111"},
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(inv.Keys) != 2 {
		t.Errorf("len(Keys) = %d, want 2", len(inv.Keys))
	}
	if len(api.getCalls) != 2 {
		t.Errorf("GetObject called %d times, want 2", len(api.getCalls))
	}
}

func TestSourceReader_Retrieve_DetailFailure(t *testing.T) {
	setup := func() *mockSourceAPI {
		api := newMockSourceAPI()
		api.clients = []domain.Client{
			{Name: "c1", ObjectSummary: "Symmetric Key (3)"},
			{Name: "c2", ObjectSummary: "Symmetric Key (1)"},
		}
		api.addObject("c1", sourceKey("k-1", "one", ""))
		api.addObject("c1", sourceKey("k-2", "two", ""))
		api.addObject("c1", sourceKey("k-3", "three", ""))
		api.addObject("c2", sourceKey("k-4", "four", ""))
		api.getErr["k-2"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "get object", StatusCode: 500}
		return api
	}

	t.Run("abort client", func(t *testing.T) {
		api := setup()
		reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, domain.DetailFailureAbortClient)

		inv, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		// k-3 は打ち切られ、c2 は続行する
		if len(inv.Keys) != 2 {
			t.Errorf("len(Keys) = %d, want 2", len(inv.Keys))
		}
		if inv.Listed != 4 || inv.Retrieved != 2 {
			t.Errorf("Listed = %d, Retrieved = %d, want 4 and 2", inv.Listed, inv.Retrieved)
		}
		if len(inv.ClientErrors) != 1 || inv.ClientErrors[0].Client != "c1" {
			t.Fatalf("ClientErrors = %v, want one error for c1", inv.ClientErrors)
		}
		var detailErr *DetailError
		if !errors.As(inv.ClientErrors[0].Err, &detailErr) || detailErr.UUID != "k-2" {
			t.Errorf("ClientErrors[0] = %v, want detail error for k-2", inv.ClientErrors[0].Err)
		}
	})

	t.Run("abort run", func(t *testing.T) {
		api := setup()
		reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, domain.DetailFailureAbortRun)

		inv, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes})
		if !errors.Is(err, domain.ErrRetrieval) {
			t.Fatalf("Retrieve() error = %v, want ErrRetrieval", err)
		}
		if inv == nil || inv.Retrieved != 1 {
			t.Errorf("partial inventory = %+v, want 1 retrieved", inv)
		}
		for _, uuid := range api.getCalls {
			if uuid == "k-4" {
				t.Error("c2 should not be read after the run is aborted")
			}
		}
	})
}

func TestSourceReader_Retrieve_ObjectListFailureIsFatal(t *testing.T) {
	api := newMockSourceAPI()
	api.clients = []domain.Client{{Name: "c1", ObjectSummary: "Symmetric Key (1)"}}
	api.objectsErr = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "list objects", StatusCode: 500}

	reader := NewSourceReader(api, &staticTokenSource{}, "admin", false, domain.DetailFailureAbortClient)

	if _, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes}); !errors.Is(err, domain.ErrRetrieval) {
		t.Errorf("Retrieve() error = %v, want ErrRetrieval", err)
	}
}

func TestSourceReader_ResolveOwnership(t *testing.T) {
	newAPI := func() *mockSourceAPI {
		api := newMockSourceAPI()
		api.clients = []domain.Client{{Name: "c1", ObjectSummary: "Symmetric Key (1)", Users: []string{"alice", "bob"}}}
		api.addObject("c1", sourceKey("k-1", "one", ""))
		return api
	}

	t.Run("restores users after success", func(t *testing.T) {
		api := newAPI()
		reader := NewSourceReader(api, &staticTokenSource{}, "admin", true, "")

		if _, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes}); err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(api.assigned) != 2 {
			t.Fatalf("AssignUsers calls = %v, want 2", api.assigned)
		}
		if fmt.Sprint(api.assigned[0]) != "[c1 admin]" {
			t.Errorf("first assign = %v, want [c1 admin]", api.assigned[0])
		}
		if fmt.Sprint(api.removed) != "[[c1 admin]]" {
			t.Errorf("RemoveUsers calls = %v, want [[c1 admin]]", api.removed)
		}
		if fmt.Sprint(api.assigned[1]) != "[c1 alice bob]" {
			t.Errorf("restore assign = %v, want [c1 alice bob]", api.assigned[1])
		}
	})

	t.Run("restores users after failure", func(t *testing.T) {
		api := newAPI()
		api.getErr["k-1"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "get object", StatusCode: 500}
		reader := NewSourceReader(api, &staticTokenSource{}, "admin", true, domain.DetailFailureAbortRun)

		if _, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes}); err == nil {
			t.Fatal("Retrieve() expected error")
		}
		if len(api.removed) != 1 || len(api.assigned) != 2 {
			t.Errorf("removed = %v, assigned = %v, want restore to run", api.removed, api.assigned)
		}
	})

	t.Run("restore error is joined", func(t *testing.T) {
		api := newAPI()
		restoreErr := errors.New("restore failed")
		api.removeErr = restoreErr
		reader := NewSourceReader(api, &staticTokenSource{}, "admin", true, "")

		_, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes})
		if !errors.Is(err, restoreErr) {
			t.Errorf("Retrieve() error = %v, want restore error", err)
		}
	})

	t.Run("already assigned user is left alone", func(t *testing.T) {
		api := newAPI()
		reader := NewSourceReader(api, &staticTokenSource{}, "alice", true, "")

		if _, err := reader.Retrieve(context.Background(), RetrieveOptions{Types: keyTypes}); err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(api.assigned) != 0 || len(api.removed) != 0 {
			t.Errorf("assigned = %v, removed = %v, want none", api.assigned, api.removed)
		}
	})
}

func TestVendorAttributes(t *testing.T) {
	raw := "[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE n1]] " +
		"[[NAME x-Other] [INDEX 0] [TYPE Text] [VALUE zz]] " +
		"[[NAME x-NETAPP-VserverId] [INDEX 0] [TYPE Text] [VALUE 7]]"

	got := VendorAttributes(raw)
	want := map[string]string{domain.NetAppNodeID: "n1", domain.NetAppVserverID: "7"}
	if len(got) != len(want) {
		t.Fatalf("VendorAttributes() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("VendorAttributes()[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestApplyFilter(t *testing.T) {
	attrs := func(node, cluster string) string {
		return fmt.Sprintf("[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE %s]] [[NAME x-NETAPP-ClusterName] [INDEX 0] [TYPE Text] [VALUE %s]] [[NAME x-Other] [INDEX 0] [TYPE Text] [VALUE zz]]", node, cluster)
	}
	objects := []domain.SourceObject{
		sourceKey("u-1", "one", attrs("n1", "cl1")),
		sourceKey("u-2", "two", attrs("n1", "cl2")),
		sourceKey("u-3", "three", attrs("n2", "cl1")),
	}
	objects[2].ClientName = "other"

	tests := []struct {
		name   string
		filter domain.Filter
		want   []string
	}{
		{name: "empty filter", filter: domain.Filter{}, want: []string{"u-1", "u-2", "u-3"}},
		{name: "uuid substring", filter: domain.Filter{UUID: "-2"}, want: []string{"u-2"}},
		{name: "single attribute", filter: domain.Filter{CustomAttributes: map[string]string{domain.NetAppNodeID: "n1"}}, want: []string{"u-1", "u-2"}},
		{
			name: "attributes are conjunctive",
			filter: domain.Filter{CustomAttributes: map[string]string{
				domain.NetAppNodeID:      "n1",
				domain.NetAppClusterName: "cl1",
			}},
			want: []string{"u-1"},
		},
		{name: "non vendor attribute is ignored", filter: domain.Filter{CustomAttributes: map[string]string{"x-Other": "zz"}}, want: []string{}},
		{name: "client name", filter: domain.Filter{ClientName: "other"}, want: []string{"u-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyFilter(objects, tt.filter)
			ids := make([]string, 0, len(got))
			for _, o := range got {
				ids = append(ids, o.UUID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ApplyFilter() = %v, want %v", ids, tt.want)
			}
		})
	}
}
