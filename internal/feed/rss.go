// SPDX-License-Identifier: MIT

package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/files"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
	"github.com/podlift/podlift/internal/paths"
	"github.com/podlift/podlift/internal/store"
)

const (
	itunesNS  = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	podcastNS = "https://podcastindex.org/namespace/1.0"
)

type rssXML struct {
	XMLName   xml.Name   `xml:"rss"`
	Version   string     `xml:"version,attr"`
	ItunesNS  string     `xml:"xmlns:itunes,attr"`
	PodcastNS string     `xml:"xmlns:podcast,attr"`
	Channel   channelXML `xml:"channel"`
}

type channelXML struct {
	Title         string       `xml:"title"`
	Description   string       `xml:"description"`
	Link          string       `xml:"link"`
	Language      string       `xml:"language,omitempty"`
	LastBuildDate string       `xml:"lastBuildDate"`
	Author        string       `xml:"itunes:author,omitempty"`
	Subtitle      string       `xml:"itunes:subtitle,omitempty"`
	Summary       string       `xml:"itunes:summary,omitempty"`
	Owner         *ownerXML    `xml:"itunes:owner,omitempty"`
	Image         *imageXML    `xml:"itunes:image,omitempty"`
	Category      categoryXML  `xml:"itunes:category"`
	Type          string       `xml:"itunes:type,omitempty"`
	Explicit      string       `xml:"itunes:explicit"`
	Items         []episodeXML `xml:"item"`
}

type ownerXML struct {
	Name  string `xml:"itunes:name,omitempty"`
	Email string `xml:"itunes:email,omitempty"`
}

type imageXML struct {
	Href string `xml:"href,attr"`
}

type categoryXML struct {
	Text string `xml:"text,attr"`
}

type episodeXML struct {
	Title       string         `xml:"title"`
	GUID        guidXML        `xml:"guid"`
	Link        string         `xml:"link,omitempty"`
	PubDate     string         `xml:"pubDate"`
	Description string         `xml:"description,omitempty"`
	Duration    string         `xml:"itunes:duration,omitempty"`
	Image       *imageXML      `xml:"itunes:image,omitempty"`
	Transcript  *transcriptXML `xml:"podcast:transcript,omitempty"`
	Enclosure   enclosureXML   `xml:"enclosure"`
}

type guidXML struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type transcriptXML struct {
	URL      string `xml:"url,attr"`
	Type     string `xml:"type,attr"`
	Language string `xml:"language,attr,omitempty"`
}

type enclosureXML struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

// Publisher renders a feed's DOWNLOADED items as podcast RSS and writes the
// XML file atomically under the feeds directory.
type Publisher struct {
	store *store.Store
	files *files.Store
	paths *paths.Manager
	now   func() time.Time
}

// NewPublisher wires the RSS phase.
func NewPublisher(st *store.Store, fs *files.Store, pm *paths.Manager) *Publisher {
	return &Publisher{store: st, files: fs, paths: pm, now: time.Now}
}

// Run regenerates the feed's RSS file. Only DOWNLOADED rows appear in the
// output, newest first, so the feed never references media that is not fully
// on disk.
func (p *Publisher) Run(ctx context.Context, feed *domain.Feed) error {
	logger := log.WithComponentFromContext(ctx, "rss")

	items, err := p.store.ListByStatus(ctx, feed.ID, domain.StatusDownloaded, 0, 0)
	if err != nil {
		metrics.IncPhaseFailure("rss")
		return fmt.Errorf("list downloaded rows: %w", err)
	}

	doc, err := p.render(feed, items)
	if err != nil {
		metrics.IncPhaseFailure("rss")
		return fmt.Errorf("render rss for %s: %w", feed.ID, err)
	}

	target, err := p.paths.FeedXMLPath(feed.ID)
	if err != nil {
		return err
	}
	if err := p.files.Save(target, bytes.NewReader(doc)); err != nil {
		metrics.IncPhaseFailure("rss")
		return fmt.Errorf("write rss for %s: %w", feed.ID, err)
	}
	if err := p.store.SetLastRSSGeneration(ctx, feed.ID); err != nil {
		return fmt.Errorf("stamp rss generation: %w", err)
	}

	logger.Info().
		Str(log.FieldEvent, "rss.published").
		Str(log.FieldFeedID, feed.ID).
		Int("episodes", len(items)).
		Msg("rss file published")
	return nil
}

func (p *Publisher) render(feed *domain.Feed, items []*domain.Download) ([]byte, error) {
	ch := channelXML{
		Title:         orDefault(feed.Title, feed.ID),
		Description:   feed.Description,
		Link:          feed.SourceURL,
		Language:      feed.Language,
		LastBuildDate: p.now().UTC().Format(time.RFC1123Z),
		Author:        feed.Author,
		Subtitle:      feed.Subtitle,
		Summary:       feed.Description,
		Category:      categoryXML{Text: orDefault(feed.Category, domain.DefaultCategory)},
		Type:          orDefault(feed.PodcastType, domain.DefaultPodcastType),
		Explicit:      orDefault(feed.Explicit, domain.DefaultExplicit),
	}
	if feed.Author != "" || feed.AuthorEmail != "" {
		ch.Owner = &ownerXML{Name: feed.Author, Email: feed.AuthorEmail}
	}
	if feed.ImageExt != "" {
		href, err := p.paths.FeedImageURL(feed.ID, feed.ImageExt)
		if err != nil {
			return nil, err
		}
		ch.Image = &imageXML{Href: href}
	} else if feed.RemoteImageURL != "" {
		ch.Image = &imageXML{Href: feed.RemoteImageURL}
	}

	// Newest first. The store returns oldest first.
	for i := len(items) - 1; i >= 0; i-- {
		ep, err := p.renderItem(feed, items[i])
		if err != nil {
			return nil, err
		}
		ch.Items = append(ch.Items, ep)
	}

	out, err := xml.MarshalIndent(rssXML{
		Version:   "2.0",
		ItunesNS:  itunesNS,
		PodcastNS: podcastNS,
		Channel:   ch,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func (p *Publisher) renderItem(feed *domain.Feed, d *domain.Download) (episodeXML, error) {
	mediaURL, err := p.paths.MediaURL(feed.ID, d.ID, d.Ext)
	if err != nil {
		return episodeXML{}, err
	}
	ep := episodeXML{
		Title:       d.Title,
		GUID:        guidXML{IsPermaLink: "false", Value: d.Key()},
		Link:        d.SourceURL,
		PubDate:     d.Published.UTC().Format(time.RFC1123Z),
		Description: d.Description,
		Enclosure: enclosureXML{
			URL:    mediaURL,
			Type:   d.MimeType,
			Length: strconv.FormatInt(d.Filesize, 10),
		},
	}
	if d.Duration > 0 {
		ep.Duration = strconv.FormatInt(d.Duration, 10)
	}
	if d.HasThumbnail() {
		href, err := p.paths.ThumbnailURL(feed.ID, d.ID, d.ThumbnailExt)
		if err != nil {
			return episodeXML{}, err
		}
		ep.Image = &imageXML{Href: href}
	}
	if d.HasTranscript() {
		href, err := p.paths.TranscriptURL(feed.ID, d.ID, d.TranscriptLang, d.TranscriptExt)
		if err != nil {
			return episodeXML{}, err
		}
		ep.Transcript = &transcriptXML{
			URL:      href,
			Type:     transcriptMime(d.TranscriptExt),
			Language: d.TranscriptLang,
		}
	}
	return ep, nil
}

func transcriptMime(ext string) string {
	switch ext {
	case "srt":
		return "application/x-subrip"
	case "vtt":
		return "text/vtt"
	default:
		return "text/plain"
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
