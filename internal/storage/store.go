// Package storage is the document store for tracked channels, discovered videos,
// their scripts and analyses. It shares one BadgerDB with the job queue.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"github.com/timshannon/badgerhold/v4"

	"github.com/law-makers/panelwatch/pkg/models"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("not found")

// Store wraps a badgerhold store
type Store struct {
	store *badgerhold.Store
	now   func() time.Time
}

// Open opens (creating if needed) the database under dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if dir == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = dir
		options.ValueDir = dir
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	log.Debug().Str("path", dir).Bool("in_memory", dir == "").Msg("Badger database opened")
	return &Store{store: store, now: time.Now}, nil
}

// Badger exposes the underlying DB for the job queue
func (s *Store) Badger() *badger.DB {
	return s.store.Badger()
}

// Close closes the database
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %s: %w", kind, id, err)
}

// Channels

// SaveChannel inserts or replaces a channel, keeping its original CreatedAt
func (s *Store) SaveChannel(ch *models.Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel ID is required")
	}

	now := s.now()
	if ch.CreatedAt.IsZero() {
		if existing, err := s.GetChannel(ch.ID); err == nil {
			ch.CreatedAt = existing.CreatedAt
		} else {
			ch.CreatedAt = now
		}
	}
	ch.UpdatedAt = now

	if err := s.store.Upsert(ch.ID, ch); err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

// GetChannel returns a channel by id
func (s *Store) GetChannel(id string) (*models.Channel, error) {
	var ch models.Channel
	if err := s.store.Get(id, &ch); err != nil {
		return nil, notFound("channel", id, err)
	}
	return &ch, nil
}

// ListChannels returns every tracked channel, oldest first
func (s *Store) ListChannels() ([]models.Channel, error) {
	var channels []models.Channel
	if err := s.store.Find(&channels, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// MarkChecked records that the channel was scraped at t
func (s *Store) MarkChecked(id string, t time.Time) error {
	ch, err := s.GetChannel(id)
	if err != nil {
		return err
	}
	ch.LastCheckedAt = t
	return s.SaveChannel(ch)
}

// DeleteChannel removes a channel together with its videos, scripts and analyses
func (s *Store) DeleteChannel(id string) error {
	if err := s.store.Delete(id, &models.Channel{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("channel %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete channel: %w", err)
	}

	videos, err := s.ListVideos(id)
	if err != nil {
		return err
	}
	for _, v := range videos {
		for _, doc := range []any{&models.Script{}, &models.Analysis{}} {
			if err := s.store.Delete(v.ID, doc); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("failed to delete documents of video %s: %w", v.ID, err)
			}
		}
	}
	if err := s.store.DeleteMatching(&models.Video{}, badgerhold.Where("ChannelID").Eq(id).Index("ChannelID")); err != nil {
		return fmt.Errorf("failed to delete videos: %w", err)
	}

	log.Debug().Str("channel_id", id).Int("videos", len(videos)).Msg("Channel deleted")
	return nil
}

// Videos

// SaveVideo inserts or replaces a video
func (s *Store) SaveVideo(v *models.Video) error {
	if v.ID == "" || v.ChannelID == "" {
		return fmt.Errorf("video ID and channel ID are required")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	if err := s.store.Upsert(v.ID, v); err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}
	return nil
}

// GetVideo returns a video by id
func (s *Store) GetVideo(id string) (*models.Video, error) {
	var v models.Video
	if err := s.store.Get(id, &v); err != nil {
		return nil, notFound("video", id, err)
	}
	return &v, nil
}

// VideoExists reports whether a video is already stored
func (s *Store) VideoExists(id string) (bool, error) {
	_, err := s.GetVideo(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListVideos returns the videos of a channel, newest first
func (s *Store) ListVideos(channelID string) ([]models.Video, error) {
	var videos []models.Video
	query := badgerhold.Where("ChannelID").Eq(channelID).Index("ChannelID").SortBy("PublishedAt").Reverse()
	if err := s.store.Find(&videos, query); err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return videos, nil
}

// CountVideos returns how many videos are stored for a channel
func (s *Store) CountVideos(channelID string) (int, error) {
	n, err := s.store.Count(&models.Video{}, badgerhold.Where("ChannelID").Eq(channelID).Index("ChannelID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return int(n), nil
}

// Scripts

// SaveScript stores the script of a video
func (s *Store) SaveScript(sc *models.Script) error {
	if sc.VideoID == "" {
		return fmt.Errorf("script video ID is required")
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = s.now()
	}
	if err := s.store.Upsert(sc.VideoID, sc); err != nil {
		return fmt.Errorf("failed to save script: %w", err)
	}
	return nil
}

// GetScript returns the script of a video
func (s *Store) GetScript(videoID string) (*models.Script, error) {
	var sc models.Script
	if err := s.store.Get(videoID, &sc); err != nil {
		return nil, notFound("script", videoID, err)
	}
	return &sc, nil
}

// Analyses

// SaveAnalysis stores structured insight data for a video. Data must be valid JSON.
func (s *Store) SaveAnalysis(a *models.Analysis) error {
	if a.VideoID == "" {
		return fmt.Errorf("analysis video ID is required")
	}
	if !json.Valid(a.Data) {
		return fmt.Errorf("analysis for video %s is not valid JSON", a.VideoID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if err := s.store.Upsert(a.VideoID, a); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the analysis of a video
func (s *Store) GetAnalysis(videoID string) (*models.Analysis, error) {
	var a models.Analysis
	if err := s.store.Get(videoID, &a); err != nil {
		return nil, notFound("analysis", videoID, err)
	}
	return &a, nil
}
