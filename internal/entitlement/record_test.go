package entitlement

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		record Record
		want   bool
	}{
		{
			name:   "no time limit never expires",
			record: Record{HasTimeLimit: false, ExpireTime: now.Add(-time.Hour).UnixMilli()},
			want:   false,
		},
		{
			name:   "no time limit with zero expiry",
			record: Record{HasTimeLimit: false, ExpireTime: 0},
			want:   false,
		},
		{
			name:   "time limited and past expiry",
			record: Record{HasTimeLimit: true, ExpireTime: now.Add(-time.Minute).UnixMilli()},
			want:   true,
		},
		{
			name:   "time limited and future expiry",
			record: Record{HasTimeLimit: true, ExpireTime: now.Add(24 * time.Hour).UnixMilli()},
			want:   false,
		},
		{
			name:   "time limited exactly at expiry is not expired",
			record: Record{HasTimeLimit: true, ExpireTime: now.UnixMilli()},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Expired(now))
		})
	}

	t.Run("nil record never expires", func(t *testing.T) {
		var r *Record
		assert.False(t, r.Expired(now))
	})
}

func TestExpiryDisplay(t *testing.T) {
	assert.Equal(t, "tomorrow", (&Record{ExpireTimeText: "tomorrow"}).ExpiryDisplay())
	assert.Equal(t, "permanent", (&Record{}).ExpiryDisplay())
}

func TestRecordClone(t *testing.T) {
	orig := &Record{
		CardCode:           "ABC-123",
		AuthorizedMachines: []string{"m1", "m2"},
	}

	cp := orig.Clone()
	require.NotNil(t, cp)
	cp.AuthorizedMachines[0] = "changed"
	cp.CardCode = "other"

	assert.Equal(t, "m1", orig.AuthorizedMachines[0])
	assert.Equal(t, "ABC-123", orig.CardCode)

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
}

func TestRecordJSONFieldNames(t *testing.T) {
	rec := Record{
		CardCode:            "ABC-123",
		UserID:              "u1",
		CardID:              "c1",
		ProductName:         "P",
		ExpireTime:          1700000000000,
		ExpireTimeText:      "tomorrow",
		ActivateTimeText:    "now",
		RemainingTimes:      5,
		HasTimeLimit:        true,
		HasTimesLimit:       true,
		AuthorizedMachines:  []string{"m1"},
		CurrentMachineCount: 1,
		MaxMachineCount:     3,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, key := range []string{
		"cardCode", "userId", "cardId", "productName", "expireTime",
		"expireTimeText", "activateTimeText", "remainingTimes",
		"hasTimeLimit", "hasTimesLimit", "authorizedMachines",
		"currentMachineCount", "maxMachineCount",
	} {
		assert.Contains(t, fields, key)
	}
}
