package activation

import (
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/netquality"
)

// ItemSnapshot is the published view of one item
type ItemSnapshot struct {
	ItemState
	HasPlayer  bool                 `json:"has_player"`
	Loaded     bool                 `json:"loaded"`
	Title      string               `json:"title,omitempty"`
	CTA        *models.CallToAction `json:"cta,omitempty"`
	Disclaimer string               `json:"disclaimer,omitempty"`
	Caption    string               `json:"caption,omitempty"`
}

// Snapshot is an immutable copy of controller state, safe to share
type Snapshot struct {
	Version     uint64              `json:"version"`
	ActiveIndex int                 `json:"active_index"`
	Items       []ItemSnapshot      `json:"items"`
	Preferences Preferences         `json:"preferences"`
	Platform    netquality.Platform `json:"platform"`
	Advice      netquality.Advice   `json:"advice"`
}

// Item returns the snapshot of id
func (s Snapshot) Item(id string) (ItemSnapshot, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ItemSnapshot{}, false
}

// Active returns the active item, if any
func (s Snapshot) Active() (ItemSnapshot, bool) {
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Items) {
		return ItemSnapshot{}, false
	}
	return s.Items[s.ActiveIndex], true
}

// Playing returns the ids of items in PhasePlaying
func (s Snapshot) Playing() []string {
	var ids []string
	for _, it := range s.Items {
		if it.Phase == PhasePlaying {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// WithPlayers returns the indices of items that currently hold a player
func (s Snapshot) WithPlayers() []int {
	var out []int
	for _, it := range s.Items {
		if it.HasPlayer {
			out = append(out, it.Index)
		}
	}
	return out
}

func (c *Controller) buildSnapshot() Snapshot {
	items := make([]ItemSnapshot, len(c.ids))
	for i, id := range c.ids {
		e, ok := c.entries[id]
		if !ok {
			items[i] = ItemSnapshot{ItemState: ItemState{ID: id, Index: i, Phase: PhaseUnregistered}}
			continue
		}

		it := ItemSnapshot{
			ItemState: e.state,
			HasPlayer: e.handle != nil,
		}
		if e.meta != nil {
			it.Loaded = true
			it.Title = e.meta.Item.Title
			it.CTA = e.meta.Item.CTA
			it.Disclaimer = e.meta.Item.Disclaimer
			it.Caption = e.meta.Captions.TextAt(e.state.Position)
		}
		items[i] = it
	}

	return Snapshot{
		Version:     c.version,
		ActiveIndex: c.active,
		Items:       items,
		Preferences: c.prefs,
		Platform:    c.platform,
		Advice:      c.advice,
	}
}

// publish builds a snapshot and hands it to subscribers, replacing any
// snapshot a slow subscriber has not read yet.
func (c *Controller) publish() {
	c.version++
	c.dirty = false
	snap := c.buildSnapshot()

	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snap = snap
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
