package worker

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// pathIllegalChars are replaced with underscore in folder names
const pathIllegalChars = `/\:*?"<>|`

// BuildDestinationPath computes the Dropbox destination for an exported
// result. It is a pure function of its inputs: the timestamp is the
// dispatch-time timestamp carried in the task payload, never wall-clock time,
// so a redelivered task uploads to the identical path.
//
// Shape: /{project}/{experience}/{date}_{time}_session-{CODE}_result.{ext}
func BuildDestinationPath(projectName, experienceName, sessionID, filePath string, dispatchedAt time.Time) string {
	ts := dispatchedAt.UTC()
	date := ts.Format("2006-01-02")
	clock := ts.Format("15-04-05")

	code := sessionID
	if len(code) > 4 {
		code = code[:4]
	}
	code = strings.ToUpper(code)

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filePath)), ".")
	if ext == "" {
		ext = "jpg"
	}

	fileName := fmt.Sprintf("%s_%s_session-%s_result.%s", date, clock, code, ext)
	return fmt.Sprintf("/%s/%s/%s", sanitizeFolderName(projectName), sanitizeFolderName(experienceName), fileName)
}

// sanitizeFolderName replaces path-illegal characters with underscore and
// falls back to "Untitled" for an empty result.
func sanitizeFolderName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(pathIllegalChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return "Untitled"
	}
	return cleaned
}
