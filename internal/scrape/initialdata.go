package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
)

// Globals assigned by inline scripts on channel and watch pages
const (
	initialDataVar     = "ytInitialData"
	playerResponseVar  = "ytInitialPlayerResponse"
	maxInlineScriptLen = 8 << 20
)

// scriptTimeout bounds the inline scripts of one page
var scriptTimeout = 5 * time.Second

// PageVideo is a video listed in a channel page's initial data
type PageVideo struct {
	ID          string
	Title       string
	Description string
	Published   string
	Duration    time.Duration
}

// PageChannel is the channel metadata embedded in a channel page
type PageChannel struct {
	ID          string
	Title       string
	Description string
	URL         string
}

// PlayerDetails is the video metadata embedded in a watch page
type PlayerDetails struct {
	VideoID     string
	ChannelID   string
	Title       string
	Description string
	Duration    time.Duration
	PublishDate time.Time
}

// evalGlobals runs the inline scripts that assign any of names and returns each
// resulting global as JSON. The scripts are interrupted when ctx is done or
// scriptTimeout passes.
func evalGlobals(ctx context.Context, html string, names ...string) (map[string]json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	vm := goja.New()
	vm.Set("window", vm.GlobalObject())
	vm.Set("self", vm.GlobalObject())
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if _, external := sel.Attr("src"); external {
			return true
		}
		src := sel.Text()
		if len(src) > maxInlineScriptLen || !mentionsAny(src, names) {
			return true
		}
		if _, err := vm.RunString(src); err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return false
			}
			// Scripts that touch the DOM fail after the assignment we need
			log.Debug().Err(err).Msg("Inline script stopped early")
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("page scripts did not finish: %w", err)
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify unavailable")
	}

	out := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		s, err := stringify(goja.Undefined(), v)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s: %w", name, err)
		}
		out[name] = json.RawMessage(s.String())
	}
	return out, nil
}

func mentionsAny(src string, names []string) bool {
	for _, n := range names {
		if strings.Contains(src, n) {
			return true
		}
	}
	return false
}

// ParseChannelPage extracts channel metadata and the listed videos from the HTML
// of a channel's videos tab
func ParseChannelPage(ctx context.Context, html string) (*PageChannel, []PageVideo, error) {
	globals, err := evalGlobals(ctx, html, initialDataVar)
	if err != nil {
		return nil, nil, err
	}
	raw, ok := globals[initialDataVar]
	if !ok {
		return nil, nil, fmt.Errorf("%s not found in page", initialDataVar)
	}

	var data struct {
		Metadata struct {
			ChannelMetadataRenderer struct {
				ExternalID       string `json:"externalId"`
				Title            string `json:"title"`
				Description      string `json:"description"`
				VanityChannelURL string `json:"vanityChannelUrl"`
			} `json:"channelMetadataRenderer"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", initialDataVar, err)
	}
	meta := data.Metadata.ChannelMetadataRenderer
	channel := &PageChannel{
		ID:          meta.ExternalID,
		Title:       meta.Title,
		Description: meta.Description,
		URL:         meta.VanityChannelURL,
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", initialDataVar, err)
	}
	return channel, collectVideos(tree), nil
}

// collectVideos walks the initial data tree for videoRenderer entries in document order
func collectVideos(tree any) []PageVideo {
	var videos []PageVideo
	seen := make(map[string]bool)

	var walk func(node any)
	walk = func(node any) {
		switch n := node.(type) {
		case map[string]any:
			if vr, ok := n["videoRenderer"].(map[string]any); ok {
				if v, ok := toPageVideo(vr); ok && !seen[v.ID] {
					seen[v.ID] = true
					videos = append(videos, v)
				}
				return
			}
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(n[k])
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(tree)
	return videos
}

func toPageVideo(vr map[string]any) (PageVideo, bool) {
	raw, _ := vr["videoId"].(string)
	id, ok := urlutil.ParseVideoID(raw)
	if !ok {
		return PageVideo{}, false
	}
	v := PageVideo{
		ID:          id,
		Title:       text(vr["title"]),
		Description: text(vr["descriptionSnippet"]),
		Published:   text(vr["publishedTimeText"]),
	}
	if d, err := parseClock(text(vr["lengthText"])); err == nil {
		v.Duration = d
	}
	return v, true
}

// text reads the {simpleText} or {runs:[{text}]} shapes used for display strings
func text(node any) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := m["simpleText"].(string); ok {
		return s
	}
	runs, _ := m["runs"].([]any)
	var sb strings.Builder
	for _, r := range runs {
		if rm, ok := r.(map[string]any); ok {
			if s, ok := rm["text"].(string); ok {
				sb.WriteString(s)
			}
		}
	}
	return sb.String()
}

// parseClock parses display durations such as 4:05 or 1:02:03
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock duration %q", s)
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock duration %q", s)
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}

var relativePattern = regexp.MustCompile(`^(?:Streamed |Premiered )?(\d+) (second|minute|hour|day|week|month|year)s? ago$`)

// parseRelative converts "3 days ago" style labels to an approximate timestamp
func parseRelative(label string, now time.Time) (time.Time, bool) {
	m := relativePattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return time.Time{}, false
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "second":
		return now.Add(-time.Duration(n) * time.Second), true
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	default:
		return now.AddDate(-n, 0, 0), true
	}
}

// ParseWatchPage extracts video details from the HTML of a watch page
func ParseWatchPage(ctx context.Context, html string) (*PlayerDetails, error) {
	globals, err := evalGlobals(ctx, html, playerResponseVar)
	if err != nil {
		return nil, err
	}
	raw, ok := globals[playerResponseVar]
	if !ok {
		return nil, fmt.Errorf("%s not found in page", playerResponseVar)
	}

	var resp struct {
		VideoDetails struct {
			VideoID          string `json:"videoId"`
			ChannelID        string `json:"channelId"`
			Title            string `json:"title"`
			ShortDescription string `json:"shortDescription"`
			LengthSeconds    string `json:"lengthSeconds"`
		} `json:"videoDetails"`
		Microformat struct {
			PlayerMicroformatRenderer struct {
				PublishDate string `json:"publishDate"`
			} `json:"playerMicroformatRenderer"`
		} `json:"microformat"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", playerResponseVar, err)
	}

	vd := resp.VideoDetails
	details := &PlayerDetails{
		VideoID:     vd.VideoID,
		ChannelID:   vd.ChannelID,
		Title:       vd.Title,
		Description: vd.ShortDescription,
	}
	if secs, err := strconv.Atoi(vd.LengthSeconds); err == nil {
		details.Duration = time.Duration(secs) * time.Second
	}
	if pd := resp.Microformat.PlayerMicroformatRenderer.PublishDate; pd != "" {
		if t, err := time.Parse(time.RFC3339, pd); err == nil {
			details.PublishDate = t
		} else if t, err := time.Parse("2006-01-02", pd); err == nil {
			details.PublishDate = t
		}
	}
	return details, nil
}
