package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dardanelles/internal/catalogv1"
	"dardanelles/internal/datapackage"
	"dardanelles/internal/digest"
	"dardanelles/internal/gateway/auth"
	"dardanelles/internal/gateway/handler"
	"dardanelles/internal/gateway/handler/rpc"
	"dardanelles/internal/gateway/repository/archive"
	"dardanelles/internal/gateway/repository/catalog"
	"dardanelles/internal/gateway/server"
	"dardanelles/internal/gateway/service/transfer"
	"dardanelles/internal/graph"
)

type gateway struct {
	srv      *httptest.Server
	archives *archive.MemoryStore
}

func newGateway(t *testing.T, maxUpload int64, keys ...string) *gateway {
	t.Helper()
	archives := archive.NewMemoryStore()
	feed := transfer.NewFeed(8)
	svc := transfer.New(catalog.NewMemoryStore(), archives, transfer.Options{
		TempDir:        t.TempDir(),
		MaxUploadBytes: maxUpload,
		Feed:           feed,
	})
	mux := server.NewMux(server.Routes{
		Transfer:       handler.NewTransferHandler(svc, auth.NewStaticKeys(keys...), nil),
		Watch:          handler.NewWatchHandler(feed, nil),
		Catalog:        rpc.NewCatalogHandler(svc),
		MaxUploadBytes: maxUpload,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &gateway{srv: srv, archives: archives}
}

func archiveBytes(t *testing.T, database string) []byte {
	t.Helper()
	provider := graph.NewMemoryProvider(&graph.Dataset{
		Name:  database,
		Nodes: []graph.Node{{Database: database, Code: "A", Attributes: map[string]any{"name": "Proc A"}}},
		Edges: []graph.Edge{{
			Source: graph.Key{Database: database, Code: "A"},
			Target: graph.Key{Database: database, Code: "A"},
			Amount: 1,
			Type:   "production",
		}},
	})
	pkg, err := datapackage.Build(context.Background(), provider, datapackage.ExportOptions{Database: database})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, datapackage.Write(&buf, pkg))
	return buf.Bytes()
}

type uploadForm struct {
	filename, database, sha256 string
	file                       []byte
	token                      string
}

func postUpload(t *testing.T, base string, form uploadForm) (*http.Response, handler.ErrorBody) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{"filename": form.filename, "database": form.database, "sha256": form.sha256} {
		if v != "" {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	if form.file != nil {
		part, err := mw.CreateFormFile("file", form.filename)
		require.NoError(t, err)
		_, err = part.Write(form.file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, base+"/upload", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if form.token != "" {
		req.Header.Set("Authorization", "Bearer "+form.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var errBody handler.ErrorBody
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.Unmarshal(raw, &errBody), string(raw))
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, errBody
}

func TestIndexAndPing(t *testing.T) {
	gw := newGateway(t, 0)

	resp, err := http.Get(gw.srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "dardanelles web service, version "))

	resp, err = http.Get(gw.srv.URL + "/ping")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	resp, err = http.Get(gw.srv.URL + "/nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadStatuses(t *testing.T) {
	gw := newGateway(t, 0)
	data := archiveBytes(t, "ExampleDB")
	hash := digest.Bytes(data)
	junk := []byte("PK not really")

	resp, _ := postUpload(t, gw.srv.URL, uploadForm{filename: "ExampleDB.zip", database: "ExampleDB", sha256: hash, file: data})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipt transfer.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.Equal(t, hash, receipt.SHA256)
	assert.True(t, strings.HasSuffix(receipt.Filename, ".ExampleDB.zip"))

	cases := []struct {
		name   string
		form   uploadForm
		status int
		code   string
		field  string
	}{
		{"missing hash", uploadForm{filename: "a.zip", database: "ExampleDB", file: data}, http.StatusBadRequest, "missing_field", "sha256"},
		{"missing database", uploadForm{filename: "a.zip", sha256: hash, file: data}, http.StatusBadRequest, "missing_field", "database"},
		{"missing file", uploadForm{filename: "a.zip", database: "ExampleDB", sha256: hash}, http.StatusBadRequest, "missing_field", "file"},
		{"hash mismatch", uploadForm{filename: "a.zip", database: "ExampleDB", sha256: digest.Bytes([]byte("x")), file: data}, http.StatusNotAcceptable, "hash_mismatch", "sha256"},
		{"malformed hash", uploadForm{filename: "a.zip", database: "ExampleDB", sha256: "zz", file: data}, http.StatusNotAcceptable, "hash_mismatch", "sha256"},
		{"duplicate", uploadForm{filename: "b.zip", database: "ExampleDB", sha256: hash, file: data}, http.StatusConflict, "already_exists", "sha256"},
		{"not a package", uploadForm{filename: "j.zip", database: "ExampleDB", sha256: digest.Bytes(junk), file: junk}, http.StatusUnprocessableEntity, "invalid_package", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postUpload(t, gw.srv.URL, tc.form)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, body.Error)
			if tc.field != "" {
				assert.Equal(t, tc.field, body.Field)
			}
		})
	}
	assert.Equal(t, 1, gw.archives.Len())
}

func TestUploadTooLarge(t *testing.T) {
	gw := newGateway(t, 64)
	data := archiveBytes(t, "ExampleDB")

	resp, body := postUpload(t, gw.srv.URL, uploadForm{filename: "a.zip", database: "ExampleDB", sha256: digest.Bytes(data), file: data})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "too_large", body.Error)
	assert.Zero(t, gw.archives.Len())
}

func TestUploadUnauthorized(t *testing.T) {
	gw := newGateway(t, 0, "k1")
	data := archiveBytes(t, "ExampleDB")
	form := uploadForm{filename: "a.zip", database: "ExampleDB", sha256: digest.Bytes(data), file: data}

	resp, body := postUpload(t, gw.srv.URL, form)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body.Error)

	form.token = "wrong"
	resp, _ = postUpload(t, gw.srv.URL, form)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	form.token = "k1"
	resp, _ = postUpload(t, gw.srv.URL, form)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCatalogAndDownload(t *testing.T) {
	gw := newGateway(t, 0)
	data := archiveBytes(t, "ExampleDB")
	hash := digest.Bytes(data)

	resp, err := http.Get(gw.srv.URL + "/catalog")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.JSONEq(t, `[]`, string(raw))

	resp, _ = postUpload(t, gw.srv.URL, uploadForm{filename: "ExampleDB.zip", database: "ExampleDB", sha256: hash, file: data})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipt transfer.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))

	resp, err = http.Get(gw.srv.URL + "/catalog")
	require.NoError(t, err)
	var triples [][3]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&triples))
	_ = resp.Body.Close()
	assert.Equal(t, [][3]string{{receipt.Filename, "ExampleDB", hash}}, triples)

	resp, err = http.PostForm(gw.srv.URL+"/download", url.Values{"hash": {hash}})
	require.NoError(t, err)
	got, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, got)
	assert.Equal(t, hash, resp.Header.Get("X-Content-SHA256"))
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, receipt.Filename, params["filename"])

	resp, err = http.Get(gw.srv.URL + "/download?sha256=" + strings.ToUpper(hash))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, target := range []string{"/download?sha256=" + digest.Bytes([]byte("absent")), "/download?sha256=abc", "/download"} {
		resp, err = http.Get(gw.srv.URL + target)
		require.NoError(t, err)
		_ = resp.Body.Close()
		if target == "/download" {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		} else {
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, target)
		}
	}
}

func TestWatchReceivesStoredEvent(t *testing.T) {
	gw := newGateway(t, 0)
	wsURL := "ws" + strings.TrimPrefix(gw.srv.URL, "http") + "/catalog/watch"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type  string         `json:"type"`
		Entry *catalog.Entry `json:"entry"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "subscribed", msg.Type)

	data := archiveBytes(t, "ExampleDB")
	resp, _ := postUpload(t, gw.srv.URL, uploadForm{filename: "ExampleDB.zip", database: "ExampleDB", sha256: digest.Bytes(data), file: data})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(transfer.EventStored), msg.Type)
	require.NotNil(t, msg.Entry)
	assert.Equal(t, digest.Bytes(data), msg.Entry.SHA256)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)
}

func TestCatalogRPC(t *testing.T) {
	gw := newGateway(t, 0)
	data := archiveBytes(t, "ExampleDB")
	hash := digest.Bytes(data)
	resp, _ := postUpload(t, gw.srv.URL, uploadForm{filename: "ExampleDB.zip", database: "ExampleDB", sha256: hash, file: data})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rpcClient := catalogv1.NewCatalogServiceClient(http.DefaultClient, gw.srv.URL)
	ctx := context.Background()

	entries, err := rpcClient.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hash, entries[0].SHA256)

	entry, err := rpcClient.Lookup(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "ExampleDB", entry.Database)

	state, err := rpcClient.Status(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "stored", state)

	_, err = rpcClient.Lookup(ctx, digest.Bytes([]byte("absent")))
	require.Error(t, err)
}
