package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

const (
	defaultDataLimit = 50
	maxDataLimit     = 500
)

// dataCursor is the decoded shape of the opaque "next_cursor" token: the
// last seen (sort value, _id) pair, so pagination survives concurrent
// writes without skipping or repeating records.
type dataCursor struct {
	Timestamp time.Time          `json:"t"`
	ID        primitive.ObjectID `json:"id"`
}

func encodeCursor(ts time.Time, id primitive.ObjectID) string {
	b, _ := json.Marshal(dataCursor{Timestamp: ts, ID: id})
	return base64.URLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (dataCursor, error) {
	var c dataCursor
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}

// handleData serves the normalized dataset, filtered by source/symbol and
// paginated via an opaque cursor.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	q := r.URL.Query()

	limit := defaultDataLimit
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxDataLimit {
		limit = maxDataLimit
	}

	filter := bson.M{}
	if source := q.Get("source"); source != "" {
		filter["source"] = models.Source(source)
	}
	if symbol := q.Get("symbol"); symbol != "" {
		filter["symbol"] = symbol
	}

	if cursorRaw := q.Get("cursor"); cursorRaw != "" {
		cursor, err := decodeCursor(cursorRaw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, requestID, start, map[string]interface{}{
				"error": "invalid cursor",
			})
			return
		}
		filter["$or"] = []bson.M{
			{"timestamp": bson.M{"$lt": cursor.Timestamp}},
			{"timestamp": cursor.Timestamp, "_id": bson.M{"$lt": cursor.ID}},
		}
	}

	records, err := s.store.Query(r.Context(), filter, int64(limit), 0)
	if err != nil {
		s.logger.WithError(err).Error("data query failed")
		writeJSON(w, http.StatusInternalServerError, requestID, start, map[string]interface{}{
			"error": "query failed",
		})
		return
	}

	resp := map[string]interface{}{
		"records": records,
		"count":   len(records),
	}
	if len(records) == int(limit) && len(records) > 0 {
		last := records[len(records)-1]
		resp["next_cursor"] = encodeCursor(last.Timestamp, last.ID)
	}

	writeJSON(w, http.StatusOK, requestID, start, resp)
}
