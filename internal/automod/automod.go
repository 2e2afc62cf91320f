package automod

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"noctis-guard/internal/settings"
	"noctis-guard/internal/utils"
)

type Rule string

const (
	RuleNone      Rule = ""
	RuleProfanity Rule = "profanity"
	RuleInvite    Rule = "invite"
	RuleSpam      Rule = "spam"
)

const spamHistory = 5

var inviteRegex = regexp.MustCompile(`(?i)(discord(?:app)?\.com/invite|discord\.gg)/[A-Za-z0-9-]+`)

type Config struct {
	BadWords    []string
	SpamRepeats int
	SpamWindow  time.Duration
}

type Verdict struct {
	Rule   Rule
	Detail string
}

func (v Verdict) Flagged() bool { return v.Rule != RuleNone }

// Reason is the user-facing explanation for a flagged message.
func (v Verdict) Reason() string {
	switch v.Rule {
	case RuleProfanity:
		return "Inappropriate language is not allowed here."
	case RuleInvite:
		return "Invite links are not allowed here."
	case RuleSpam:
		return "Please do not spam."
	}
	return ""
}

type Engine struct {
	mu       sync.Mutex
	cfg      Config
	badWords []string
	windows  map[string]*utils.SlidingWindow
}

func New(cfg Config) *Engine {
	if cfg.SpamRepeats <= 0 {
		cfg.SpamRepeats = 3
	}
	if cfg.SpamWindow <= 0 {
		cfg.SpamWindow = 20 * time.Second
	}
	words := make([]string, 0, len(cfg.BadWords))
	for _, w := range cfg.BadWords {
		if w = normalizeText(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &Engine{cfg: cfg, badWords: words, windows: make(map[string]*utils.SlidingWindow)}
}

// Check evaluates content against the guild's enabled rules. Profanity
// wins over invites, invites over spam.
func (e *Engine) Check(guildID, userID, content string, rules settings.AutomodSettings, now time.Time) Verdict {
	if strings.TrimSpace(content) == "" {
		return Verdict{}
	}
	if rules.Profanity {
		if word, ok := e.profane(content); ok {
			return Verdict{Rule: RuleProfanity, Detail: "matched " + word}
		}
	}
	if rules.Invites {
		if link, ok := containsInvite(content); ok {
			return Verdict{Rule: RuleInvite, Detail: link}
		}
	}
	if rules.Spam {
		count := e.window(guildID + ":" + userID).Add(now, normalizeText(strings.TrimSpace(content)))
		if count >= e.cfg.SpamRepeats {
			return Verdict{Rule: RuleSpam, Detail: "repeated message"}
		}
	}
	return Verdict{}
}

// Forget drops spam history for a user, e.g. after they were actioned.
func (e *Engine) Forget(guildID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, guildID+":"+userID)
}

func (e *Engine) profane(content string) (string, bool) {
	normalized := normalizeText(content)
	for _, field := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		for _, word := range e.badWords {
			if field == word {
				return word, true
			}
		}
	}
	return "", false
}

func containsInvite(content string) (string, bool) {
	if match := inviteRegex.FindString(content); match != "" {
		return match, true
	}
	for _, raw := range utils.ExtractURLs(content) {
		if utils.IsInviteURL(raw) {
			return raw, true
		}
	}
	return "", false
}

func (e *Engine) window(key string) *utils.SlidingWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := e.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow(e.cfg.SpamWindow, spamHistory)
		e.windows[key] = window
	}
	return window
}

func normalizeText(input string) string {
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ä", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ò", "o", "ó", "o", "ô", "o", "ö", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(strings.ToLower(input))
}
