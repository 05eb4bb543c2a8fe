package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/mlindqvist/cryovault/internal/models"
)

// BoxStats is the occupancy of one box.
type BoxStats struct {
	Occupied int `json:"occupied"`
	Empty    int `json:"empty"`
	Total    int `json:"total"`
}

// Stats is a compact occupancy snapshot used by warnings and audit.
type Stats struct {
	RecordCount   int                 `json:"record_count"`
	TotalSlots    int                 `json:"total_slots"`
	TotalOccupied int                 `json:"total_occupied"`
	TotalEmpty    int                 `json:"total_empty"`
	Boxes         map[string]BoxStats `json:"boxes"`
}

// Delta is the change in headline stats between two snapshots.
type Delta struct {
	RecordCount   int `json:"record_count"`
	TotalOccupied int `json:"total_occupied"`
	TotalEmpty    int `json:"total_empty"`
}

// ChangedIDs lists record ids touched by one write.
type ChangedIDs struct {
	Added   []int `json:"added"`
	Removed []int `json:"removed"`
	Updated []int `json:"updated"`
}

// CollectStats computes occupancy per box and overall.
func CollectStats(doc *models.Document) Stats {
	layout := doc.Meta.BoxLayout
	perBox := layout.TotalSlots()
	boxNumbers := layout.BoxNumbers()

	occupied := make(map[int]int)
	for _, rec := range doc.Inventory {
		if rec.Position != nil {
			occupied[rec.Box]++
		}
	}

	boxes := make(map[string]BoxStats, len(boxNumbers))
	totalOccupied := 0
	for _, n := range boxNumbers {
		count := occupied[n]
		boxes[strconv.Itoa(n)] = BoxStats{
			Occupied: count,
			Empty:    max(perBox-count, 0),
			Total:    perBox,
		}
		totalOccupied += count
	}

	totalSlots := perBox * len(boxNumbers)
	return Stats{
		RecordCount:   len(doc.Inventory),
		TotalSlots:    totalSlots,
		TotalOccupied: totalOccupied,
		TotalEmpty:    max(totalSlots-totalOccupied, 0),
		Boxes:         boxes,
	}
}

// CapacityWarnings returns warning messages when free slots drop to or
// below the thresholds, for the whole store and per box.
func CapacityWarnings(doc *models.Document, totalThreshold, boxThreshold int) []string {
	stats := CollectStats(doc)
	var warnings []string

	if stats.TotalEmpty <= totalThreshold {
		warnings = append(warnings,
			fmt.Sprintf("capacity warning: only %d free slots left overall (threshold %d)",
				stats.TotalEmpty, totalThreshold))
	}

	keys := make([]string, 0, len(stats.Boxes))
	for key := range stats.Boxes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	for _, key := range keys {
		if empty := stats.Boxes[key].Empty; empty <= boxThreshold {
			warnings = append(warnings,
				fmt.Sprintf("capacity warning: box %s has only %d free slots left (threshold %d)",
					key, empty, boxThreshold))
		}
	}
	return warnings
}

func deltaStats(before, after *Stats) *Delta {
	if before == nil || after == nil {
		return nil
	}
	return &Delta{
		RecordCount:   after.RecordCount - before.RecordCount,
		TotalOccupied: after.TotalOccupied - before.TotalOccupied,
		TotalEmpty:    after.TotalEmpty - before.TotalEmpty,
	}
}

// diffRecordIDs compares two record lists by id, using a canonical
// JSON rendering to detect in-place updates.
func diffRecordIDs(before, after []models.Record) ChangedIDs {
	serialize := func(records []models.Record) map[int]string {
		out := make(map[int]string, len(records))
		for _, rec := range records {
			data, err := json.Marshal(struct {
				Box      int                   `json:"box"`
				Position *int                  `json:"position"`
				FrozenAt string                `json:"frozen_at"`
				Fields   map[string]any        `json:"fields"`
				History  []models.HistoryEvent `json:"history"`
			}{rec.Box, rec.Position, rec.FrozenAt, rec.Fields, rec.History})
			if err != nil {
				data = []byte(fmt.Sprintf("%v", rec))
			}
			out[rec.ID] = string(data)
		}
		return out
	}

	beforeByID := serialize(before)
	afterByID := serialize(after)

	changed := ChangedIDs{Added: []int{}, Removed: []int{}, Updated: []int{}}
	for id := range afterByID {
		if _, ok := beforeByID[id]; !ok {
			changed.Added = append(changed.Added, id)
		}
	}
	for id, beforeBody := range beforeByID {
		afterBody, ok := afterByID[id]
		if !ok {
			changed.Removed = append(changed.Removed, id)
		} else if beforeBody != afterBody {
			changed.Updated = append(changed.Updated, id)
		}
	}
	sort.Ints(changed.Added)
	sort.Ints(changed.Removed)
	sort.Ints(changed.Updated)
	return changed
}
