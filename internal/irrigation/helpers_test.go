package irrigation

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-irrigation/internal/controller"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

func setupRepo(t *testing.T) *inventory.SQLiteRepository {
	t.Helper()
	return inventory.NewSQLiteRepository(setupDB(t))
}

// setupDB opens a migrated in-memory database.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return db.DB
}

// fakeController impersonates an irrigation controller over HTTP.
type fakeController struct {
	srv *httptest.Server

	mu          sync.Mutex
	topology    string
	getStatus   int
	postStatus  int
	commands    []controller.Command
	contentLens []int64
}

func newFakeController(t *testing.T, topology string) *fakeController {
	t.Helper()
	fc := &fakeController{
		topology:   topology,
		getStatus:  http.StatusOK,
		postStatus: http.StatusOK,
	}
	fc.srv = httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeController) serve(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fc.getStatus)
		_, _ = io.WriteString(w, fc.topology)
	case http.MethodPost:
		var cmd controller.Command
		_ = json.NewDecoder(r.Body).Decode(&cmd)
		fc.commands = append(fc.commands, cmd)
		fc.contentLens = append(fc.contentLens, r.ContentLength)
		w.WriteHeader(fc.postStatus)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (fc *fakeController) address() string {
	return strings.TrimPrefix(fc.srv.URL, "http://")
}

func (fc *fakeController) setTopology(body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.topology = body
}

func (fc *fakeController) setStatus(get, post int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.getStatus = get
	fc.postStatus = post
}

func (fc *fakeController) received() []controller.Command {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]controller.Command(nil), fc.commands...)
}

func newHTTPClient() *controller.Client {
	return controller.NewClientWithHTTP(&http.Client{Timeout: 2 * time.Second}, "http")
}

func registerController(t *testing.T, repo inventory.Repository, id, address string) {
	t.Helper()
	require.NoError(t, repo.CreateDevice(context.Background(), &inventory.Device{
		ID:      id,
		Name:    "Controller " + id,
		Address: address,
		Capabilities: inventory.Capabilities{
			Irrigation: &inventory.IrrigationCapability{Circuits: []string{}},
		},
	}))
}

func saveCircuit(t *testing.T, repo inventory.Repository, c *inventory.Circuit) {
	t.Helper()
	if c.Sensors == nil {
		c.Sensors = []string{}
	}
	require.NoError(t, repo.SaveCircuit(context.Background(), c))
	require.NoError(t, repo.AddControllerCircuit(context.Background(), c.ControllerID, c.ID))
}

// eventLog records notifications in order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.events))
	for _, e := range l.events {
		names = append(names, e.Name)
	}
	return names
}

// capturePublisher records every published payload as JSON.
type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][]json.RawMessage
	err      error
}

func (p *capturePublisher) PublishJSON(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.messages == nil {
		p.messages = make(map[string][]json.RawMessage)
	}
	p.messages[topic] = append(p.messages[topic], data)
	return nil
}

func (p *capturePublisher) last(topic string) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[topic]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}
