package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/pkg/models"
)

func TestEnqueueScrapeValidation(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{})
	p := NewProducer(b)

	tests := []struct {
		name    string
		job     models.ScrapeJob
		wantErr bool
	}{
		{"valid", models.ScrapeJob{Title: "Panel", URL: "https://www.youtube.com/@panel", ChannelID: "UC1"}, false},
		{"with credentials", models.ScrapeJob{URL: "https://www.youtube.com/@panel", ChannelID: "UC1", Email: "operator@example.com", Password: "secret"}, false},
		{"missing channel", models.ScrapeJob{URL: "https://www.youtube.com/@panel"}, true},
		{"bad url", models.ScrapeJob{URL: "not a url", ChannelID: "UC1"}, true},
		{"bad email", models.ScrapeJob{URL: "https://www.youtube.com/@panel", ChannelID: "UC1", Email: "nobody", Password: "x"}, true},
		{"email without password", models.ScrapeJob{URL: "https://www.youtube.com/@panel", ChannelID: "UC1", Email: "operator@example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := p.EnqueueScrape(context.Background(), tt.job)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)

			job, err := b.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, JobTypeScrape, job.Type)
			assert.Equal(t, StatusPending, job.Status)

			var got models.ScrapeJob
			require.NoError(t, job.Decode(&got))
			assert.Equal(t, tt.job, got)
		})
	}

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func TestEnqueueLoginDeliveredOnce(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{MaxAttempts: 5})
	p := NewProducer(b)

	id, err := p.EnqueueLogin(context.Background(), LoginJob{})
	require.NoError(t, err)

	job, err := b.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, JobTypeCheckLogin, job.Type)
	assert.Equal(t, 1, job.MaxAttempts)

	_, err = p.EnqueueLogin(context.Background(), LoginJob{Email: "operator@example.com"})
	assert.Error(t, err)
}
