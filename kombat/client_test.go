package kombat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSyncSendsBearerAndParsesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clicker/sync" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Write([]byte(`{"clickerUser":{"id":"77","balanceCoins":1234.5,"level":4,"availableTaps":900,"earnPerTap":3,"lastSyncUpdate":1717000000}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	u, err := c.Sync(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if u.BalanceCoins != 1234.5 || u.Level != 4 || u.AvailableTaps != 900 || u.EarnPerTap != 3 {
		t.Fatalf("unexpected snapshot: %+v", u)
	}
	if !u.SyncedAt().Equal(time.Unix(1717000000, 0)) {
		t.Fatalf("SyncedAt = %v", u.SyncedAt())
	}
}

func TestTapPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AvailableTaps int   `json:"availableTaps"`
			Count         int   `json:"count"`
			Timestamp     int64 `json:"timestamp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.AvailableTaps != 500 || body.Count != 120 || body.Timestamp == 0 {
			t.Errorf("unexpected tap body: %+v", body)
		}
		w.Write([]byte(`{"clickerUser":{"id":"1","availableTaps":0}}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Tap(context.Background(), "tok", 500, 120); err != nil {
		t.Fatalf("Tap: %v", err)
	}
}

func TestNon2xxIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_code":"INSUFFICIENT_FUNDS"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).BuyUpgrade(context.Background(), "tok", "ceo")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusBadRequest || reqErr.Endpoint != "/clicker/buy-upgrade" {
		t.Fatalf("unexpected RequestError: %+v", reqErr)
	}
}

func TestUpgradesAndTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clicker/upgrades-for-buy", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"upgradesForBuy":[
			{"id":"ceo","name":"CEO","section":"PR&Team","price":100,"profitPerHour":50,"isAvailable":true},
			{"id":"cto","name":"CTO","section":"PR&Team","price":40,"profitPerHour":50,"isAvailable":true,
			 "condition":{"_type":"ByUpgrade","upgradeId":"ceo","level":2},"lastUpgradeAt":1717000000.5}
		],"dailyCombo":{"upgradeIds":["ceo"],"bonusCoins":5000000}}`))
	})
	mux.HandleFunc("/clicker/list-tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tasks":[{"id":"streak_days","rewardCoins":500,"days":3,"periodicity":"Repeatedly","isCompleted":true,"completedAt":"2024-06-01T10:00:00.123Z"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ups, err := c.Upgrades(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Upgrades: %v", err)
	}
	if len(ups.Upgrades) != 2 || ups.DailyCombo == nil || ups.DailyCombo.BonusCoins != 5000000 {
		t.Fatalf("unexpected upgrades: %+v", ups)
	}
	if ups.Upgrades[0].ConditionType() != "" || ups.Upgrades[1].ConditionType() != "ceo" {
		t.Fatalf("unexpected conditions")
	}
	if ts := ups.Upgrades[1].LastUpgradeTime(); ts == nil || ts.Unix() != 1717000000 {
		t.Fatalf("LastUpgradeTime = %v", ts)
	}

	tasks, err := c.Tasks(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].CompletedTime() == nil {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestDailyCipherDecode(t *testing.T) {
	tests := []struct {
		name   string
		cipher string
		want   string
	}{
		{"noise stripped", "SEV42MTE8=", "HELLO"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&DailyCipher{Cipher: tt.cipher}).Decode()
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := (&DailyCipher{Cipher: "SEV1***"}).Decode(); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestWithProxyKeepsTimeout(t *testing.T) {
	c := NewClient("", 7*time.Second)
	if c.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", c.BaseURL)
	}
	p := c.WithProxy(http.DefaultTransport, "http://1.2.3.4:8080")
	if p.HTTPClient.Timeout != 7*time.Second || p.HTTPClient.Transport == nil {
		t.Fatalf("proxy client not configured: %+v", p.HTTPClient)
	}
	if c.HTTPClient.Transport != nil {
		t.Fatal("WithProxy mutated the original client")
	}
}
