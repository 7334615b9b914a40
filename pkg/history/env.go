package history

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DateLayout renders CurrentDate.
const DateLayout = "2006-01-02T15:04:05Z07:00 Monday"

// EnvOptions configures EnvBlock.
type EnvOptions struct {
	// Extra is free text, or a file path when it starts with "." or "/".
	Extra string
	Now   func() time.Time
	// SystemInfo overrides host probing. Keys render in the order uname, issue.
	SystemInfo map[string]string
}

// EnvBlock renders the environment slot.
func EnvBlock(opts EnvOptions) string {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	info := opts.SystemInfo
	if info == nil {
		info = SystemInfo()
	}

	var sys strings.Builder
	sys.WriteString("System Info:\n")
	for _, k := range []string{"uname", "issue"} {
		if v := info[k]; v != "" {
			sys.WriteString("- " + k + ":" + v + "\n")
		}
	}

	return "# Environment\n" + strings.Join([]string{
		"CurrentDate: " + now().Format(DateLayout),
		sys.String(),
		extraText(opts.Extra),
	}, "\n")
}

func extraText(extra string) string {
	if extra == "" || (extra[0] != '.' && extra[0] != '/') {
		return extra
	}
	data, err := os.ReadFile(extra)
	if err != nil {
		return ""
	}
	return string(data)
}

var (
	systemInfoOnce sync.Once
	systemInfo     map[string]string
)

// SystemInfo probes uname and /etc/issue once per process.
func SystemInfo() map[string]string {
	systemInfoOnce.Do(func() {
		systemInfo = probeSystem()
	})
	return systemInfo
}

func probeSystem() map[string]string {
	info := map[string]string{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "uname", "-a").Output(); err == nil {
		info["uname"] = strings.TrimSpace(string(out))
	}
	if data, err := os.ReadFile("/etc/issue"); err == nil {
		info["issue"] = strings.TrimSpace(string(data))
	}
	return info
}
