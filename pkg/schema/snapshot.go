package schema

import (
	"encoding/json"
	"os"
	"time"

	"github.com/golang/snappy"

	"github.com/TFMV/fedra/pkg/models"
)

// snapshot is the persisted shape of the cache: both catalogs plus the
// refresh timestamp that drives the freshness check on startup.
type snapshot struct {
	Mongo       map[string]models.SchemaEntry `json:"mongo"`
	ClickHouse  map[string]models.SchemaEntry `json:"clickhouse"`
	LastRefresh time.Time                     `json:"last_refresh"`
}

// saveSnapshot writes the snappy-compressed JSON snapshot atomically:
// temp file then rename, so a crash never leaves a torn snapshot.
func saveSnapshot(path string, snap *snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, data)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadSnapshot(path string) (*snapshot, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Mongo == nil {
		snap.Mongo = map[string]models.SchemaEntry{}
	}
	if snap.ClickHouse == nil {
		snap.ClickHouse = map[string]models.SchemaEntry{}
	}
	return &snap, nil
}
