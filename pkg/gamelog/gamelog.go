// Package gamelog classifies raw output lines of the game server into structured records.
package gamelog

import (
	"regexp"
	"strings"
	"time"
)

// Category identifies the recognized shape/severity of a log line.
type Category string

// categories for the fixed vocabulary of line shapes the server emits.
const (
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
	CategoryScript  Category = "script"
	CategoryVerbose Category = "verbose"
	CategoryJoin    Category = "join"
	CategoryLeave   Category = "leave"
	CategoryChat    Category = "chat"
	CategoryKick    Category = "kick"
	CategoryBan     Category = "ban"
	CategoryCommand Category = "command"
	CategoryGeneric Category = "generic"
)

// Record is one classified log line.
type Record struct {
	Source   string    // caller-supplied stream tag (stdout, stderr, ...)
	Received time.Time // wall-clock time of classification, not derived from the line
	Category Category  // detected category, CategoryGeneric when no shape matches
	Message  string    // extracted message payload
	Raw      string    // original line text
}

// engineRe matches engine log lines: "   3.374 Info Router.cpp:123: message".
// the leading number is seconds since server start with millisecond precision.
var engineRe = regexp.MustCompile(`^ *\d+\.\d{3} (Info|Warning|Error|Script|Verbose) (.*)$`)

// actionRe matches bracketed action lines: "2026-08-30 12:00:00 [JOIN] player joined".
var actionRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \[([A-Z]+)\] (.*)$`)

// severities maps an engine severity word to its category.
var severities = map[string]Category{
	"Info":    CategoryInfo,
	"Warning": CategoryWarning,
	"Error":   CategoryError,
	"Script":  CategoryScript,
	"Verbose": CategoryVerbose,
}

// actions maps a bracketed action token to its category.
var actions = map[string]Category{
	"JOIN":    CategoryJoin,
	"LEAVE":   CategoryLeave,
	"CHAT":    CategoryChat,
	"KICK":    CategoryKick,
	"BAN":     CategoryBan,
	"COMMAND": CategoryCommand,
	"WARNING": CategoryWarning,
}

// Parse classifies one reassembled line. it is total over all byte sequences:
// lines matching no known shape yield a generic record rather than an error.
func Parse(line []byte, source string) Record {
	raw := string(line)
	rec := Record{
		Source:   source,
		Received: time.Now(),
		Category: CategoryGeneric,
		Message:  strings.TrimSpace(raw),
		Raw:      raw,
	}

	if m := engineRe.FindStringSubmatch(raw); m != nil {
		rec.Category = severities[m[1]]
		rec.Message = m[2]
		return rec
	}

	if m := actionRe.FindStringSubmatch(raw); m != nil {
		if cat, ok := actions[m[1]]; ok {
			rec.Category = cat
			rec.Message = m[2]
			return rec
		}
	}

	return rec
}
