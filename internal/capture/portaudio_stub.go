//go:build !portaudio

package capture

import (
	"errors"
	"time"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

func newPortAudio(int, interface{ Now() time.Time }) (Device, error) {
	return nil, types.NewError(types.KindDeviceUnavailable, "portaudio",
		errors.New("built without portaudio support (use -tags portaudio)"))
}
