package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/api"
	"library-occupancy-backend/internal/clock"
	"library-occupancy-backend/internal/db"
	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/forecast"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/schedule"
	"library-occupancy-backend/internal/store"
	"library-occupancy-backend/internal/sweeper"
)

type recordingConn struct {
	mu  sync.Mutex
	got []hub.Message
}

func (c *recordingConn) ID() string { return "recorder" }

func (c *recordingConn) Send(m hub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, m)
	return nil
}

func (c *recordingConn) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, m := range c.got {
		out[i] = m.Topic
	}
	return out
}

// TestSpaceLifecycle drives the whole system through admission, eviction,
// sweep, scheduled close and restart, verifying the database state at each
// step.
func TestSpaceLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t0 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // Monday

	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Space.MaxCapacity = 2

	appStore := store.NewGormStore(testDB)
	clk := clock.NewManual(t0)
	eventHub := hub.New(nil)
	eng := engine.New(cfg, appStore, clk, eventHub, forecast.New(forecast.DefaultConfig()))
	require.NoError(t, eng.Bootstrap(context.Background()))

	rec := &recordingConn{}
	eventHub.Attach(rec, 0)

	router := api.NewRouter(eng, appStore, eventHub, cfg.Server, &webpush.Options{VAPIDPublicKey: "pk"})
	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		router.ServeHTTP(w, req)
		return w
	}

	for _, seed := range []struct{ token, name string }{
		{"tok-a", "Alice"}, {"tok-b", "Bob"}, {"tok-c", "Carol"},
	} {
		occ := &model.Occupant{Token: seed.token, DisplayName: seed.name, CooperativenessScore: 0.5}
		require.NoError(t, appStore.EnsureOccupant(context.Background(), occ))
	}

	var deadlineB time.Time

	t.Run("Admissions Fill The Space", func(t *testing.T) {
		w := do("POST", "/api/scan", `{"token":"tok-a"}`)
		require.Equal(t, http.StatusOK, w.Code)

		clk.Advance(5 * time.Minute)
		w = do("POST", "/api/scan", `{"token":"tok-b"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var res engine.ScanResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, engine.OutcomeAdmitted, res.Outcome)
		assert.Equal(t, 2, res.Count)
		deadlineB = res.Session.Deadline

		var cap model.CapacityConfig
		require.NoError(t, testDB.First(&cap, model.CapacityConfigID).Error)
		assert.Equal(t, 2, cap.CurrentOccupancy)

		var events int64
		testDB.Model(&model.VisitEvent{}).Count(&events)
		assert.Equal(t, int64(2), events)
	})

	t.Run("Full Space Evicts The Top-Ranked Occupant", func(t *testing.T) {
		clk.Advance(5 * time.Minute)
		w := do("POST", "/api/scan", `{"token":"tok-c"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var res engine.ScanResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.NotNil(t, res.Evicted)
		// Bob's later entry ranks him higher on entry order (0.449 vs 0.403).
		assert.Equal(t, "Bob", res.Evicted.DisplayName)
		assert.Equal(t, 2, res.Count)

		var exits int64
		testDB.Model(&model.VisitEvent{}).Where("kind = ?", model.EventExit).Count(&exits)
		assert.Equal(t, int64(1), exits)

		assert.Contains(t, rec.topics(), hub.TopicOccupancyUpdate)
	})

	t.Run("Sweep Closes Expired Sessions", func(t *testing.T) {
		clk.Set(deadlineB.Add(2 * time.Hour))
		sw := sweeper.New(eng, cfg.Space.SweepInterval)
		sw.SweepOnce(context.Background())

		var cap model.CapacityConfig
		require.NoError(t, testDB.First(&cap, model.CapacityConfigID).Error)
		assert.Equal(t, 0, cap.CurrentOccupancy)

		// Synthesized exits land on the deadlines, not the sweep time.
		var lastExit model.VisitEvent
		require.NoError(t, testDB.Where("kind = ?", model.EventExit).Order("id DESC").First(&lastExit).Error)
		assert.True(t, lastExit.OccurredAt.Before(clk.Now()))
	})

	t.Run("Scheduler Closes At The Configured Time", func(t *testing.T) {
		_, err := eng.SetStatus(context.Background(), engine.StatusChange{
			Status:              model.StatusOpen,
			AutoOpen:            "08:00",
			AutoClose:           "22:00",
			AutoScheduleEnabled: true,
			UpdatedBy:           "admin",
		})
		require.NoError(t, err)

		clk.Set(time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC))
		schedule.New(eng, clk).Tick(context.Background())

		assert.Equal(t, model.StatusClosed, eng.Status().Status)

		w := do("POST", "/api/scan", `{"token":"tok-a"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Restart Rebuilds From The Log", func(t *testing.T) {
		fresh := engine.New(cfg, appStore, clk, hub.New(nil), forecast.New(forecast.DefaultConfig()))
		require.NoError(t, fresh.Bootstrap(context.Background()))

		st := fresh.GetState()
		assert.Equal(t, 0, st.Count)
		assert.Equal(t, model.StatusClosed, st.Status)
	})
}
