package proxy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
	"github.com/nulpointcorp/llmur-gateway/internal/store"
)

func TestPathID_ParsesUserValue(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	want := uuid.New()
	ctx.SetUserValue("id", want.String())

	got, err := pathID(ctx)
	if err != nil {
		t.Fatalf("pathID: %v", err)
	}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPathID_RejectsInvalidUUID(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("id", "not-a-uuid")

	if _, err := pathID(ctx); err == nil {
		t.Error("expected an error for a malformed id")
	}
}

func TestRedactConnections_StripsSecretMaterial(t *testing.T) {
	in := []*store.ConnectionEntity{
		{Connection: graph.Connection{
			ID:              uuid.New(),
			EncryptedAPIKey: []byte{1, 2, 3},
			Salt:            uuid.New(),
		}},
	}

	out := redactConnections(in)

	if len(out) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(out))
	}
	if out[0].EncryptedAPIKey != nil {
		t.Error("expected EncryptedAPIKey to be redacted")
	}
	if out[0].Salt != uuid.Nil {
		t.Error("expected Salt to be redacted")
	}
	if out[0].ID == uuid.Nil {
		t.Error("expected the connection ID to be preserved")
	}
}

func TestPutProject_MalformedBodyReturnsBadRequest(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte("not json"))

	a.putProject(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestPutVirtualKey_MalformedBodyReturnsBadRequest(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte("not json"))

	a.putVirtualKey(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestPutConnection_MissingAPIKeyIsRejected(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(`{"endpoint":"https://api.openai.com"}`))

	a.putConnection(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400 when api_key is missing, got %d", ctx.Response.StatusCode())
	}
}

func TestPutConnection_MalformedBodyReturnsBadRequest(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte("not json"))

	a.putConnection(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestDeleteProject_InvalidIDReturnsBadRequest(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("id", "not-a-uuid")

	a.deleteProject(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestGetConnection_InvalidIDReturnsBadRequest(t *testing.T) {
	a := &AdminAPI{}
	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("id", "not-a-uuid")

	a.getConnection(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}
