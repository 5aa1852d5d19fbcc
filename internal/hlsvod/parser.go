package hlsvod

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	tagHeader         = "#EXTM3U"
	tagStreamInf      = "#EXT-X-STREAM-INF:"
	tagInf            = "#EXTINF:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagDiscontinuity  = "#EXT-X-DISCONTINUITY"
)

// lineScanner yields trimmed, non-blank lines with their 1-based number.
type lineScanner struct {
	sc   *bufio.Scanner
	line int
	text string
}

func newLineScanner(r io.Reader) *lineScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineScanner{sc: sc}
}

func (s *lineScanner) next() bool {
	for s.sc.Scan() {
		s.line++
		s.text = strings.TrimSpace(s.sc.Text())
		if s.text != "" {
			return true
		}
	}
	return false
}

// header consumes the first line and checks it is #EXTM3U.
func (s *lineScanner) header() error {
	if !s.next() {
		if err := s.sc.Err(); err != nil {
			return err
		}
		return malformed(0, "empty playlist")
	}
	if s.text != tagHeader {
		return malformed(s.line, "missing %s header", tagHeader)
	}
	return nil
}

// uri advances to the URI line that must follow a tag at line tagLine.
// Unknown tags in between are skipped.
func (s *lineScanner) uri(tag string, tagLine int) (string, error) {
	for s.next() {
		if !strings.HasPrefix(s.text, "#") {
			return s.text, nil
		}
		if strings.HasPrefix(s.text, tagInf) || strings.HasPrefix(s.text, tagStreamInf) ||
			s.text == tagDiscontinuity {
			break
		}
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", malformed(tagLine, "%s without URI line", strings.TrimSuffix(tag, ":"))
}

// ParseMaster reads a master playlist and returns its variant streams in
// document order.
func ParseMaster(r io.Reader) ([]Variant, error) {
	s := newLineScanner(r)
	if err := s.header(); err != nil {
		return nil, err
	}

	var variants []Variant
	seen := make(map[Bandwidth]bool)
	for s.next() {
		if !strings.HasPrefix(s.text, tagStreamInf) {
			continue
		}
		line := s.line
		bw, ok := attribute(strings.TrimPrefix(s.text, tagStreamInf), "BANDWIDTH")
		if !ok {
			return nil, malformed(line, "variant without BANDWIDTH")
		}
		if n, err := strconv.Atoi(bw); err != nil || n <= 0 {
			return nil, malformed(line, "invalid BANDWIDTH %q", bw)
		}
		uri, err := s.uri(tagStreamInf, line)
		if err != nil {
			return nil, err
		}
		// Only the first variant of a given bandwidth is kept.
		if seen[Bandwidth(bw)] {
			continue
		}
		seen[Bandwidth(bw)] = true
		variants = append(variants, Variant{Bandwidth: Bandwidth(bw), URI: uri})
	}
	if err := s.sc.Err(); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, malformed(0, "master playlist declares no variants")
	}
	return variants, nil
}

// ParseMedia reads a media playlist. Segments are numbered from 1 in
// document order; every EXT-X-DISCONTINUITY tag becomes a sentinel.
func ParseMedia(r io.Reader) (*MediaPlaylist, error) {
	s := newLineScanner(r)
	if err := s.header(); err != nil {
		return nil, err
	}

	pl := &MediaPlaylist{TargetDuration: -1}
	index := 0
	for s.next() {
		switch {
		case strings.HasPrefix(s.text, tagTargetDuration):
			v := strings.TrimPrefix(s.text, tagTargetDuration)
			d, err := strconv.ParseFloat(v, 64)
			if err != nil || !validDuration(d) {
				return nil, malformed(s.line, "invalid target duration %q", v)
			}
			pl.TargetDuration = d

		case s.text == tagDiscontinuity:
			pl.Segments = append(pl.Segments, sentinel)

		case strings.HasPrefix(s.text, tagInf):
			line := s.line
			v := strings.TrimPrefix(s.text, tagInf)
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || !validDuration(d) {
				return nil, malformed(line, "invalid EXTINF duration %q", v)
			}
			uri, err := s.uri(tagInf, line)
			if err != nil {
				return nil, err
			}
			index++
			pl.Segments = append(pl.Segments, Segment{Index: index, Duration: d, URI: uri})

		case !strings.HasPrefix(s.text, "#"):
			return nil, malformed(s.line, "URI %q without EXTINF", s.text)
		}
	}
	if err := s.sc.Err(); err != nil {
		return nil, err
	}
	if pl.TargetDuration < 0 {
		return nil, malformed(0, "missing %s", strings.TrimSuffix(tagTargetDuration, ":"))
	}
	return pl, nil
}

// attribute returns the value of key in an HLS attribute list, with
// surrounding quotes removed.
func attribute(list, key string) (string, bool) {
	for len(list) > 0 {
		var pair string
		pair, list = nextAttribute(list)
		k, v, ok := strings.Cut(pair, "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.Trim(strings.TrimSpace(v), `"`), true
		}
	}
	return "", false
}

// nextAttribute splits off the first KEY=VALUE pair, honouring quoted
// values that contain commas (CODECS="avc1,mp4a").
func nextAttribute(list string) (pair, rest string) {
	quoted := false
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return list[:i], list[i+1:]
			}
		}
	}
	return list, ""
}

// validDuration reports whether d is a finite, non-negative number of seconds.
func validDuration(d float64) bool {
	return d >= 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}
