package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TranscriptEntry is one utterance in a conversation transcript.
type TranscriptEntry struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
}

// TranscriptInfo summarizes one stored transcript.
type TranscriptInfo struct {
	UID         string          `json:"uid"`
	LatestEntry TranscriptEntry `json:"latest_entry"`
	Timestamp   string          `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// CreateTranscript starts a new transcript file for a satellite and
// returns its uid.
func CreateTranscript(baseDir string, satelliteID string) (string, error) {
	if satelliteID == "" {
		return "", errors.New("satellite id is empty")
	}
	dir, err := ensureSatelliteDir(baseDir, satelliteID)
	if err != nil {
		return "", err
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(dir, uid+".json")
	meta := []TranscriptEntry{{Role: "metadata", Timestamp: time.Now().Format(time.RFC3339)}}
	if err := writeTranscript(path, meta); err != nil {
		return "", err
	}
	return uid, nil
}

// AppendEntry appends one utterance to an existing transcript.
func AppendEntry(baseDir string, satelliteID string, transcriptUID string, entry TranscriptEntry) error {
	path, err := transcriptPath(baseDir, satelliteID, transcriptUID)
	if err != nil {
		return err
	}
	entries, err := readTranscript(path)
	if err != nil {
		return err
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(time.RFC3339)
	}
	entries = append(entries, entry)
	return writeTranscript(path, entries)
}

// SaveAudioClip stores one response's audio next to its transcript and
// returns the file path.
func SaveAudioClip(baseDir string, satelliteID string, transcriptUID string, seq int, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("empty audio clip")
	}
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(satelliteID) || !safeNamePattern.MatchString(transcriptUID) {
		return "", errors.New("invalid clip path")
	}
	dir, err := ensureSatelliteDir(baseDir, satelliteID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%03d.wav", transcriptUID, seq))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// GetTranscript returns the conversation entries, dropping metadata.
func GetTranscript(baseDir string, satelliteID string, transcriptUID string) ([]TranscriptEntry, error) {
	path, err := transcriptPath(baseDir, satelliteID, transcriptUID)
	if err != nil {
		return nil, err
	}
	entries, err := readTranscript(path)
	if err != nil {
		return nil, err
	}
	filtered := []TranscriptEntry{}
	for _, entry := range entries {
		if entry.Role == "metadata" {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered, nil
}

// DeleteTranscript removes one transcript file.
func DeleteTranscript(baseDir string, satelliteID string, transcriptUID string) bool {
	path, err := transcriptPath(baseDir, satelliteID, transcriptUID)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

// ListTranscripts returns transcript summaries for a satellite, newest
// first.
func ListTranscripts(baseDir string, satelliteID string) []TranscriptInfo {
	list := []TranscriptInfo{}
	dir, err := ensureSatelliteDir(baseDir, satelliteID)
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		transcriptUID := strings.TrimSuffix(entry.Name(), ".json")
		messages, err := readTranscript(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var latest *TranscriptEntry
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "metadata" {
				continue
			}
			msg := messages[i]
			latest = &msg
			break
		}
		if latest == nil {
			continue
		}
		list = append(list, TranscriptInfo{
			UID:         transcriptUID,
			LatestEntry: *latest,
			Timestamp:   latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})

	return list
}

func ensureSatelliteDir(baseDir string, satelliteID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(satelliteID) {
		return "", errors.New("invalid satellite id")
	}
	path := filepath.Join(baseDir, satelliteID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func transcriptPath(baseDir string, satelliteID string, transcriptUID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(satelliteID) || !safeNamePattern.MatchString(transcriptUID) {
		return "", errors.New("invalid transcript path")
	}
	return filepath.Join(baseDir, satelliteID, transcriptUID+".json"), nil
}

func readTranscript(path string) ([]TranscriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeTranscript(path string, entries []TranscriptEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
