// Package voiceprofile implements the Voice Profile Store capability
// (spec.md 2.4): a per-user stylistic summary the core updates and reads
// but never interprets beyond sample_size/confidence. Text analysis
// (keyword extraction, tone inference) is explicitly out of scope for the
// core (spec.md section 1); this package supplies the cheapest heuristic
// that satisfies the capability's contract, mirroring the deterministic,
// no-ML stance of internal/embedding.
package voiceprofile

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Tola-byte/kela/internal/memory"
)

// confidenceSaturation controls how fast confidence approaches
// memory.MaxVoiceConfidence as sample_size grows: confidence =
// MaxVoiceConfidence * sample_size / (sample_size + confidenceSaturation).
const confidenceSaturation = 4.0

// maxToneKeywords bounds how many tone keywords a profile retains; the
// context builder only ever surfaces the first 5 (spec.md 4.6).
const maxToneKeywords = 20

var tokenPattern = regexp.MustCompile(`[a-zA-Z']+`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {},
	"this": {}, "that": {}, "it": {}, "as": {}, "at": {}, "by": {}, "be": {}, "i": {},
	"you": {}, "we": {}, "they": {}, "he": {}, "she": {}, "not": {}, "so": {}, "if": {},
}

// Store is the Voice Profile Store capability.
type Store interface {
	// GetProfile returns the profile and true, or a zero profile and false
	// if the user has never had content voice-analyzed.
	GetProfile(ctx context.Context, userID string) (memory.VoiceProfile, bool, error)
	// UpdateWithContent folds content into the profile, returning the
	// updated profile.
	UpdateWithContent(ctx context.Context, userID, content string) (memory.VoiceProfile, error)
}

type memStore struct {
	mu       sync.Mutex
	profiles map[string]memory.VoiceProfile
	freq     map[string]map[string]int
}

// NewMemory returns an in-process Voice Profile Store.
func NewMemory() Store {
	return &memStore{
		profiles: make(map[string]memory.VoiceProfile),
		freq:     make(map[string]map[string]int),
	}
}

func (s *memStore) GetProfile(_ context.Context, userID string) (memory.VoiceProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	return p, ok, nil
}

func confidenceFor(sampleSize int) float64 {
	n := float64(sampleSize)
	c := memory.MaxVoiceConfidence * n / (n + confidenceSaturation)
	if c > memory.MaxVoiceConfidence {
		return memory.MaxVoiceConfidence
	}
	return c
}

func topKeywords(counts map[string]int, n int) []string {
	type kv struct {
		word  string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for w, c := range counts {
		kvs = append(kvs, kv{w, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].word < kvs[j].word
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.word
	}
	return out
}

func (s *memStore) UpdateWithContent(_ context.Context, userID, content string) (memory.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, ok := s.freq[userID]
	if !ok {
		counts = make(map[string]int)
		s.freq[userID] = counts
	}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(content), -1) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}

	prev := s.profiles[userID]
	sampleSize := prev.SampleSize + 1
	profile := memory.VoiceProfile{
		UserID:       userID,
		SampleSize:   sampleSize,
		Confidence:   confidenceFor(sampleSize),
		ToneKeywords: topKeywords(counts, maxToneKeywords),
	}
	s.profiles[userID] = profile
	return profile, nil
}
