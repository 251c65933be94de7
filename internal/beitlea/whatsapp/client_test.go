package whatsapp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/whatsapp"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *whatsapp.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return whatsapp.NewClient(whatsapp.ClientConfig{
		AccessToken:   "test-token",
		PhoneNumberID: "1234567890",
		BaseURL:       server.URL,
	})
}

func TestClient_SendText(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1234567890/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.SendText(context.Background(), "+972501234567", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if got["messaging_product"] != "whatsapp" {
		t.Errorf("messaging_product = %v", got["messaging_product"])
	}
	if got["to"] != "972501234567" {
		t.Errorf("to = %v, want plus stripped", got["to"])
	}
	text, _ := got["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("body = %v", text["body"])
	}
}

func TestClient_SendContactCard(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	contact := whatsapp.Contact{Name: "Rivka Cohen", Phone: "+972501112233"}
	if err := client.SendContactCard(context.Background(), "+972501234567", contact); err != nil {
		t.Fatalf("SendContactCard: %v", err)
	}

	if got["type"] != "contacts" {
		t.Fatalf("type = %v", got["type"])
	}
	contacts, _ := got["contacts"].([]any)
	if len(contacts) != 1 {
		t.Fatalf("contacts length = %d", len(contacts))
	}
	entry, _ := contacts[0].(map[string]any)
	name, _ := entry["name"].(map[string]any)
	if name["formatted_name"] != "Rivka Cohen" || name["first_name"] != "Rivka" || name["last_name"] != "Cohen" {
		t.Errorf("name = %v", name)
	}
	phones, _ := entry["phones"].([]any)
	phone, _ := phones[0].(map[string]any)
	if phone["wa_id"] != "972501112233" {
		t.Errorf("wa_id = %v, want digits only", phone["wa_id"])
	}
}

func TestClient_MarkRead(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.MarkRead(context.Background(), "wamid.abc"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got["status"] != "read" || got["message_id"] != "wamid.abc" {
		t.Errorf("payload = %v", got)
	}
}

func TestClient_APIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad token"}}`))
	})

	err := client.SendText(context.Background(), "+972501234567", "hello")
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}
