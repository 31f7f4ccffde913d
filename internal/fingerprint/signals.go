package fingerprint

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Signals são as características do ambiente usadas para derivar o deviceId
type Signals struct {
	Hostname  string
	OS        string
	Arch      string
	Language  string
	Timezone  string
	UserAgent string
}

// SignalSource fornece os sinais do ambiente atual
type SignalSource func() Signals

// SystemSignals coleta sinais do processo corrente
func SystemSignals() Signals {
	hostname, _ := os.Hostname()
	zone, _ := time.Now().Zone()

	language := os.Getenv("LC_ALL")
	if language == "" {
		language = os.Getenv("LANG")
	}

	return Signals{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Language: language,
		Timezone: zone,
	}
}

// DeriveDeviceID calcula o deviceId com hash não criptográfico; mesmos sinais, mesmo id
func DeriveDeviceID(signals Signals) string {
	joined := strings.Join([]string{
		signals.Hostname,
		signals.OS,
		signals.Arch,
		signals.Language,
		signals.Timezone,
		signals.UserAgent,
	}, "|")
	return fmt.Sprintf("dev_%016x", xxhash.Sum64String(joined))
}
