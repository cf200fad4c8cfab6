// Package parser classifies free-text release titles.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cehbz/torrentname"

	"bitfinder/internal/domain"
)

// Rule maps a title pattern to the value it yields. Rule tables are evaluated
// in order and encode precedence: the first matching rule wins.
type Rule struct {
	Pattern *regexp.Regexp
	Value   string
}

func rule(pattern, value string) Rule {
	return Rule{Pattern: regexp.MustCompile(`(?i)` + pattern), Value: value}
}

var ResolutionRules = []Rule{
	rule(`\b8k\b|4320p`, "8K"),
	rule(`2160p|\b4k\b|\buhd\b`, "4K"),
	rule(`1080p`, "1080p"),
	rule(`720p`, "720p"),
	rule(`480p`, "480p"),
	rule(`360p`, "360p"),
}

var VideoCodecRules = []Rule{
	rule(`\bav1\b`, "AV1"),
	rule(`\bh\.?265\b|hevc|x265`, "H.265"),
	rule(`\bh\.?264\b|x264|\bavc\b`, "H.264"),
	rule(`xvid`, "XviD"),
	rule(`divx`, "DivX"),
}

var AudioCodecRules = []Rule{
	rule(`atmos|dolby[-\s.]?atmos`, "Dolby Atmos"),
	rule(`truehd|true[-\s.]?hd`, "TrueHD"),
	rule(`dts[-\s.]?hd[-\s.]?ma|dts[-\s.]?hd`, "DTS-HD"),
	rule(`dts[-\s.]?x\b`, "DTS-X"),
	rule(`\bdts\b`, "DTS"),
	rule(`\bac3\b|dolby[-\s.]?digital`, "AC3"),
	rule(`\baac\b`, "AAC"),
	rule(`\bmp3\b`, "MP3"),
}

var AudioChannelRules = []Rule{
	rule(`7\.1`, "7.1"),
	rule(`5\.1`, "5.1"),
	rule(`2\.0`, "2.0"),
	rule(`stereo`, "Stereo"),
}

var SourceRules = []Rule{
	rule(`remux`, "Remux"),
	rule(`blu[-\s.]?ray|bdrip|brrip`, "BluRay"),
	rule(`web[-\s.]?dl`, "WEB-DL"),
	rule(`web[-\s.]?rip`, "WEBRip"),
	rule(`hdtv`, "HDTV"),
	rule(`dvd[-\s.]?rip`, "DVDRip"),
	rule(`\b(?:hd)?cam(?:rip)?\b`, "CAM"),
	rule(`\b(?:hd)?ts\b|telesync`, "Telesync"),
}

var HDRRules = []Rule{
	rule(`dolby[-\s.]?vision|\bdovi\b|\bdv\b`, "Dolby Vision"),
	rule(`hdr10\+|hdr10plus`, "HDR10+"),
	rule(`hdr10|\bhdr\b`, "HDR10"),
}

var BitDepthRules = []Rule{
	rule(`10[-\s.]?bit|hi10p`, "10-bit"),
	rule(`8[-\s.]?bit`, "8-bit"),
}

// LanguageRules and SubtitleRules are tag tables: every matching rule adds
// its value.
var LanguageRules = []Rule{
	rule(`\bmulti\b`, "Multi"),
	rule(`\benglis`, "English"),
	rule(`\bfrench|vostfr`, "French"),
	rule(`\bspanish`, "Spanish"),
	rule(`\bgerman`, "German"),
	rule(`\bitalian`, "Italian"),
	rule(`\bjapanese`, "Japanese"),
	rule(`\bchinese`, "Chinese"),
	rule(`\bkorean`, "Korean"),
}

var SubtitleRules = []Rule{
	rule(`\bsubs?\b`, "Available"),
	rule(`\bmulti[-\s.]?subs?\b`, "Multi"),
	rule(`\beng[-\s.]?subs?\b`, "English"),
}

var (
	seasonEpisodePattern = regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`)
	crossEpisodePattern  = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	trailingGroupPattern = regexp.MustCompile(`(?i)[-\s]([A-Z0-9]+)$`)
	bracketGroupPattern  = regexp.MustCompile(`\[([^\]]+)\]$`)

	tvPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)s\d{1,2}e\d{1,3}`),
		regexp.MustCompile(`(?i)season\s*\d+`),
		crossEpisodePattern,
		regexp.MustCompile(`(?i)complete\s*(series|season)`),
	}
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

const maxReleaseGroupLen = 20

// FirstMatch returns the value of the first rule whose pattern matches title.
func FirstMatch(rules []Rule, title string) string {
	for _, r := range rules {
		if r.Pattern.MatchString(title) {
			return r.Value
		}
	}
	return ""
}

// AllMatches returns the values of every matching rule in table order.
func AllMatches(rules []Rule, title string) []string {
	var values []string
	for _, r := range rules {
		if r.Pattern.MatchString(title) {
			values = append(values, r.Value)
		}
	}
	return values
}

// Parse extracts quality attributes from a release title. It never fails;
// unrecognised attributes are left empty.
func Parse(title string) domain.Metadata {
	md := domain.Metadata{
		Resolution:    FirstMatch(ResolutionRules, title),
		VideoCodec:    FirstMatch(VideoCodecRules, title),
		AudioCodec:    FirstMatch(AudioCodecRules, title),
		AudioChannels: FirstMatch(AudioChannelRules, title),
		Source:        FirstMatch(SourceRules, title),
		HDR:           FirstMatch(HDRRules, title),
		BitDepth:      FirstMatch(BitDepthRules, title),
		Languages:     AllMatches(LanguageRules, title),
		Subtitles:     AllMatches(SubtitleRules, title),
		ReleaseGroup:  releaseGroup(title),
	}
	md.Season, md.Episode = seasonEpisode(title)
	if md.Season == "" {
		if info := torrentname.Parse(title); info != nil && info.Season > 0 {
			md.Season = padded("S", strconv.Itoa(info.Season))
			md.Complete = info.IsComplete
		}
	}
	return md
}

// Classify infers the coarse category of a release title.
func Classify(title string) domain.Category {
	for _, p := range tvPatterns {
		if p.MatchString(title) {
			return domain.CategoryTV
		}
	}
	if yearPattern.MatchString(title) {
		return domain.CategoryMovie
	}
	return domain.CategoryOther
}

func seasonEpisode(title string) (string, string) {
	if m := seasonEpisodePattern.FindStringSubmatch(title); m != nil {
		return padded("S", m[1]), padded("E", m[2])
	}
	if m := crossEpisodePattern.FindStringSubmatch(title); m != nil {
		return padded("S", m[1]), padded("E", m[2])
	}
	return "", ""
}

func releaseGroup(title string) string {
	title = strings.TrimSpace(title)
	m := trailingGroupPattern.FindStringSubmatch(title)
	if m == nil {
		m = bracketGroupPattern.FindStringSubmatch(title)
	}
	if m == nil || len(m[1]) >= maxReleaseGroupLen {
		return ""
	}
	return m[1]
}

func padded(prefix, digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return prefix + digits
	}
	return fmt.Sprintf("%s%02d", prefix, n)
}
