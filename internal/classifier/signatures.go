package classifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signature identifies one family of link-preview crawlers. Pattern is matched
// case-insensitively as a substring of the User-Agent header.
type Signature struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// DefaultSignatures is the built-in preview-bot table. Order matters: the first
// match wins, so more specific patterns come before generic ones.
var DefaultSignatures = []Signature{
	{Name: "facebook", Pattern: "facebookexternalhit"},
	{Name: "facebook", Pattern: "facebookcatalog"},
	{Name: "facebook", Pattern: "facebot"},
	{Name: "facebook", Pattern: "meta-externalagent"},
	{Name: "twitter", Pattern: "twitterbot"},
	{Name: "linkedin", Pattern: "linkedinbot"},
	{Name: "slack", Pattern: "slackbot-linkexpanding"},
	{Name: "slack", Pattern: "slack-imgproxy"},
	{Name: "slack", Pattern: "slackbot"},
	{Name: "discord", Pattern: "discordbot"},
	{Name: "telegram", Pattern: "telegrambot"},
	{Name: "whatsapp", Pattern: "whatsapp"},
	{Name: "skype", Pattern: "skypeuripreview"},
	{Name: "pinterest", Pattern: "pinterestbot"},
	{Name: "reddit", Pattern: "redditbot"},
	{Name: "apple", Pattern: "applebot"},
	{Name: "vk", Pattern: "vkshare"},
	{Name: "embedly", Pattern: "embedly"},
	{Name: "iframely", Pattern: "iframely"},
	{Name: "google", Pattern: "google-pagerenderer"},
	{Name: "google", Pattern: "googlebot"},
}

type signatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// LoadSignatures reads an ordered table from a YAML document of the form
//
//	signatures:
//	  - name: facebook
//	    pattern: facebookexternalhit
func LoadSignatures(path string) ([]Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures %s: %w", path, err)
	}
	return ParseSignatures(raw)
}

// ParseSignatures decodes and validates a YAML signature table.
func ParseSignatures(raw []byte) ([]Signature, error) {
	var file signatureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	if len(file.Signatures) == 0 {
		return nil, fmt.Errorf("parse signatures: table is empty")
	}
	out := make([]Signature, 0, len(file.Signatures))
	for i, s := range file.Signatures {
		name := strings.TrimSpace(s.Name)
		pattern := strings.ToLower(strings.TrimSpace(s.Pattern))
		if name == "" || pattern == "" {
			return nil, fmt.Errorf("parse signatures: entry %d needs a name and a pattern", i)
		}
		out = append(out, Signature{Name: name, Pattern: pattern})
	}
	return out, nil
}

// matchSignature returns the first signature whose pattern occurs in ua.
func matchSignature(table []Signature, ua string) (Signature, bool) {
	if ua == "" {
		return Signature{}, false
	}
	lower := strings.ToLower(ua)
	for _, s := range table {
		if strings.Contains(lower, s.Pattern) {
			return s, true
		}
	}
	return Signature{}, false
}
