package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jcom-dev/stipnode/internal/cluster"
	"github.com/jcom-dev/stipnode/internal/dht"
	"github.com/jcom-dev/stipnode/internal/store"
)

func testPeer(ts *httptest.Server) dht.Peer {
	return dht.Peer{NodeID: 1, RPCAddr: ts.Listener.Addr().String()}
}

func TestHTTPClientListDecodesNDJSONStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nd := newNDJSONWriter(w)
		nd.writeLine(imageDTO{NodeID: 1, Album: "a", Platform: "sentinel-2", Geocode: "9q8y", Tile: "T1"})
		nd.writeLine(imageDTO{NodeID: 1, Album: "a", Platform: "sentinel-2", Geocode: "9q8z", Tile: "T2"})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	var got []store.ListedImage
	err := client.List(context.Background(), testPeer(ts), store.Filter{}, func(li store.ListedImage) error {
		got = append(got, li)
		return nil
	})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Tile != "T1" || got[1].Tile != "T2" {
		t.Errorf("unexpected tiles: %+v", got)
	}
}

func TestHTTPClientListStopsOnYieldError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nd := newNDJSONWriter(w)
		nd.writeLine(imageDTO{Tile: "T1"})
		nd.writeLine(imageDTO{Tile: "T2"})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	n := 0
	err := client.List(context.Background(), testPeer(ts), store.Filter{}, func(li store.ListedImage) error {
		n++
		return context.Canceled
	})
	if err == nil {
		t.Error("expected yield error to propagate")
	}
	if n != 1 {
		t.Errorf("yield called %d times, want 1 (stop after first error)", n)
	}
}

func TestHTTPClientSearchDecodesExtents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"extents": []extentDTO{{Platform: "sentinel-2", Geocode: "9q8y", Count: 5}},
		})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	extents, err := client.Search(context.Background(), testPeer(ts), store.Filter{})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(extents) != 1 || extents[0].Count != 5 {
		t.Fatalf("unexpected extents: %+v", extents)
	}
}

func TestHTTPClientSearchPropagatesNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewHTTPClient()
	_, err := client.Search(context.Background(), testPeer(ts), store.Filter{})
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestHTTPClientDispatchDecodesTaskID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body cluster.FillRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		RespondJSON(w, http.StatusOK, map[string]interface{}{"task_id": 42})
	}))
	defer ts.Close()

	client := NewHTTPClient()
	taskID, err := client.Dispatch(context.Background(), testPeer(ts), cluster.Request{
		Kind: cluster.RequestFill,
		Fill: cluster.FillRequest{Album: "a"},
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if taskID != 42 {
		t.Errorf("taskID = %d, want 42", taskID)
	}
}

func TestHTTPClientDispatchRejectsUnknownKind(t *testing.T) {
	client := NewHTTPClient()
	_, err := client.Dispatch(context.Background(), dht.Peer{RPCAddr: "127.0.0.1:0"}, cluster.Request{Kind: cluster.RequestKind(99)})
	if err == nil {
		t.Error("expected error for unknown request kind")
	}
}
