package jenkins

import (
	"fmt"
	"net/url"
	"strings"
)

// rootInfo is the server root document, /api/json
type rootInfo struct {
	Jobs []struct {
		Name string `json:"name"`
	} `json:"jobs"`
}

// buildRef points at one build of a job
type buildRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// jobInfo is the job document, /job/<name>/api/json
type jobInfo struct {
	Name               string    `json:"name"`
	URL                string    `json:"url"`
	NextBuildNumber    int       `json:"nextBuildNumber"`
	LastCompletedBuild *buildRef `json:"lastCompletedBuild"`
}

// queueItem is a pending build, /queue/item/<id>/api/json
type queueItem struct {
	ID         int64     `json:"id"`
	Cancelled  bool      `json:"cancelled"`
	Why        string    `json:"why"`
	Executable *buildRef `json:"executable"`
}

// BuildDetails is the build document, /job/<name>/<n>/api/json.
// A build is terminal once Building is false.
type BuildDetails struct {
	Number     int         `json:"number"`
	Building   bool        `json:"building"`
	Result     *string     `json:"result"`
	URL        string      `json:"url"`
	ChangeSet  changeSet   `json:"changeSet"`
	ChangeSets []changeSet `json:"changeSets"`
}

type changeSet struct {
	Kind  *string         `json:"kind"`
	Items []changeSetItem `json:"items"`
}

type changeSetItem struct {
	Timestamp int64  `json:"timestamp"`
	CommitID  string `json:"commitId"`
	ID        string `json:"id"`
	Author    *struct {
		FullName    string `json:"fullName"`
		AbsoluteURL string `json:"absoluteUrl"`
	} `json:"author"`
}

// ChangeSetEntry is one source-control commit associated with a build
type ChangeSetEntry struct {
	Kind       string
	CommitID   string
	AuthorName string
	AuthorURL  string
	Timestamp  int64
}

// Entries flattens every change set of the build, in document order
func (d *BuildDetails) Entries() []ChangeSetEntry {
	sets := append([]changeSet{d.ChangeSet}, d.ChangeSets...)

	var entries []ChangeSetEntry
	for _, set := range sets {
		kind := ""
		if set.Kind != nil {
			kind = *set.Kind
		}
		for _, item := range set.Items {
			entry := ChangeSetEntry{
				Kind:      kind,
				CommitID:  item.CommitID,
				Timestamp: item.Timestamp,
			}
			if entry.CommitID == "" {
				entry.CommitID = item.ID
			}
			if item.Author != nil {
				entry.AuthorName = item.Author.FullName
				entry.AuthorURL = item.Author.AbsoluteURL
			}
			entries = append(entries, entry)
		}
	}
	return entries
}

// testReport is /job/<name>/<n>/testReport/api/json
type testReport struct {
	FailCount  *int     `json:"failCount"`
	SkipCount  *int     `json:"skipCount"`
	PassCount  *int     `json:"passCount"`
	TotalCount *int     `json:"totalCount"`
	Duration   *float64 `json:"duration"`
}

// userInfo is /user/<id>/api/json; the mailer property carries the address
type userInfo struct {
	Property []struct {
		Address string `json:"address"`
	} `json:"property"`
}

// jobPath encodes a job identifier the way Jenkins addresses it.
// Folder separators become nested /job/ segments: a/b => /job/a/job/b
func jobPath(job string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.Trim(job, "/"), "/") {
		if segment == "" {
			continue
		}
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}

func buildPath(job string, number int) string {
	return fmt.Sprintf("%s/%d", jobPath(job), number)
}
