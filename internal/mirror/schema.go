package mirror

import (
	"fmt"
	"strconv"
	"strings"
)

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced by instance name so several
// Place servers can share one Redis.
//
// Key pattern: place:{instance_name}:{entity}
// Channel pattern: place:{instance_name}:{event_type}_events

// BoardKey returns the Redis key of the board hash (one field per tile).
// Pattern: place:{instance_name}:board
func BoardKey(instanceName string) string {
	return fmt.Sprintf("place:%s:board", instanceName)
}

// TileLogKey returns the Redis key of the placement stream.
// Pattern: place:{instance_name}:tiles
func TileLogKey(instanceName string) string {
	return fmt.Sprintf("place:%s:tiles", instanceName)
}

// TileEventsChannel returns the Pub/Sub channel carrying accepted placements.
// Pattern: place:{instance_name}:tile_events
func TileEventsChannel(instanceName string) string {
	return fmt.Sprintf("place:%s:tile_events", instanceName)
}

// TileField returns the board hash field for a coordinate: "<row>,<col>".
func TileField(row, col int) string {
	return strconv.Itoa(row) + "," + strconv.Itoa(col)
}

// ParseTileField is the inverse of TileField.
func ParseTileField(field string) (row, col int, err error) {
	r, c, ok := strings.Cut(field, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid tile field %q", field)
	}
	if row, err = strconv.Atoi(r); err != nil {
		return 0, 0, fmt.Errorf("invalid tile field %q: %w", field, err)
	}
	if col, err = strconv.Atoi(c); err != nil {
		return 0, 0, fmt.Errorf("invalid tile field %q: %w", field, err)
	}
	return row, col, nil
}
