package archival

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAppender struct {
	entries []models.AuditEntry
	err     error
}

func (f *fakeAppender) Append(ctx context.Context, entry models.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestConsumer_Process(t *testing.T) {
	valid, err := json.Marshal(models.AuditEntry{
		EventID:   "e1",
		AuctionID: "a1",
		BidderID:  "u1",
		Price:     1500,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	missingID, err := json.Marshal(models.AuditEntry{AuctionID: "a1"})
	require.NoError(t, err)

	tests := []struct {
		name          string
		data          []byte
		storeErr      error
		wantMalformed bool
		wantErr       bool
		wantStored    int
	}{
		{name: "Persisted", data: valid, wantStored: 1},
		{name: "NotJSON", data: []byte("{"), wantErr: true, wantMalformed: true},
		{name: "MissingEventID", data: missingID, wantErr: true, wantMalformed: true},
		{name: "StoreDown", data: valid, storeErr: errors.New("db down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeAppender{err: tt.storeErr}
			c := &Consumer{store: store, logger: zap.NewNop()}

			err := c.process(context.Background(), tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantMalformed, errors.Is(err, errMalformed))
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, store.entries, tt.wantStored)
		})
	}
}
