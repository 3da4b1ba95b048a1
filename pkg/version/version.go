package version

import (
	"encoding/json"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

type Info struct {
	Commit string `json:"commit"`
	Time   string `json:"time"`
}

// Short is the commit abbreviated to 7 characters, or "dev" for builds
// without vcs information.
func (i Info) Short() string {
	if i.Commit == "" {
		return "dev"
	}
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

func fromSettings(settings []debug.BuildSetting) Info {
	v := Info{}
	for _, setting := range settings {
		if setting.Key == "vcs.revision" {
			v.Commit = setting.Value
		}
		if setting.Key == "vcs.time" {
			v.Time = setting.Value
		}
	}
	return v
}

var Current = func() Info {
	if info, ok := debug.ReadBuildInfo(); ok {
		return fromSettings(info.Settings)
	}
	return Info{}
}()

var Version = func() string {
	b, err := json.Marshal(&Current)
	if err != nil {
		logrus.Fatal(err)
	}
	return string(b)
}()
