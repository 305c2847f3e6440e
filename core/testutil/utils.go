package testutil

import (
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-userop/storage"
)

const (
	// hardhat account #0, only ever funded on local chains
	OwnerPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func OwnerKey() *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(OwnerPrivateKeyHex)
	if err != nil {
		panic(err)
	}
	return key
}

// Shortcut to initialize a storage at a temp path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "apuseroptest")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

// RPCError is returned by an RPCHandler to answer with a JSON-RPC error object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// RPCHandler answers one JSON-RPC call. Returning a non RPCError error produces
// an HTTP 500.
type RPCHandler func(method string, params []json.RawMessage) (interface{}, error)

// RPCCall is one request seen by an RPCServer.
type RPCCall struct {
	Method string
	Params []json.RawMessage
	Query  string
}

// RPCServer is a JSON-RPC 2.0 endpoint backed by httptest.
type RPCServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls []RPCCall
}

func NewRPCServer(t testing.TB, handler RPCHandler) *RPCServer {
	s := &RPCServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, RPCCall{Method: req.Method, Params: req.Params, Query: r.URL.RawQuery})
		s.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		result, err := handler(req.Method, req.Params)
		if err != nil {
			rpcErr, ok := err.(*RPCError)
			if !ok {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp["error"] = map[string]interface{}{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *RPCServer) Calls() []RPCCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RPCCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *RPCServer) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}
