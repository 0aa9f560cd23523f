package monitor

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/coinforest/internal/coinbase"
	"github.com/rawblock/coinforest/internal/forest"
	"github.com/rawblock/coinforest/internal/store"
)

// Server exposes a read-only view of a coinforest index over HTTP.
type Server struct {
	store *store.Store
	f     *forest.Forest
	codec *coinbase.Codec
	hub   *Hub
}

// NewServer builds a Server over an already-open store and forest. hub may
// be nil, in which case /ws is not registered.
func NewServer(st *store.Store, f *forest.Forest, codec *coinbase.Codec, hub *Hub) *Server {
	return &Server{store: st, f: f, codec: codec, hub: hub}
}

// Router builds the gin.Engine serving this Server's endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("MONITOR_ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Next()
	})
	r.Use(requestIDMiddleware)

	r.GET("/health", s.handleHealth)
	r.GET("/coin/:name", s.handleCoinLookup)
	if s.hub != nil {
		r.GET("/ws", s.hub.Subscribe)
	}
	return r
}

// requestIDMiddleware stamps every request with a correlation id, generated
// with google/uuid, echoed back in the response so client-side and
// server-side logs can be joined.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.New().String()
	}
	c.Writer.Header().Set("X-Request-ID", id)
	c.Set("requestID", id)
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCoinLookup resolves a coin name (hex) to its id via the coin-name
// forest — the same C2 lookup the ingest pipeline uses for spend and parent
// resolution — then fetches the full row from the relational store.
func (s *Server) handleCoinLookup(c *gin.Context) {
	nameHex := c.Param("name")
	names, err := parseHashParam(nameHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, missing, err := s.f.FindHashes(names)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if missing[names[0]] {
		c.JSON(http.StatusNotFound, gin.H{"error": "coin not found"})
		return
	}
	id := int64(rows[0].ID)

	infos, parents, err := s.store.CoinInfosForIDs(c.Request.Context(), []int64{id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	info := infos[id]
	c.JSON(http.StatusOK, gin.H{
		"id":              id,
		"parent_id":       parents[id],
		"puzzle_hash":     info.PuzzleHash.String(),
		"amount":          info.Amount,
		"confirmed_index": info.ConfirmedIndex,
		"spent_index":     info.SpentIndex,
	})
}

// BroadcastFlush publishes a flush event to every connected websocket
// client. Intended to be wired as an ingest.Pipeline.OnFlush callback.
func (s *Server) BroadcastFlush(blockCount, coinCount int) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(blockCount, coinCount)
}

func parseHashParam(s string) ([]chainhash.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != chainhash.HashSize {
		return nil, fmt.Errorf("name must be %d bytes, got %d", chainhash.HashSize, len(b))
	}
	var h chainhash.Hash
	copy(h[:], b)
	return []chainhash.Hash{h}, nil
}
