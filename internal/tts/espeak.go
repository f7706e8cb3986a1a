package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
companion_say(const char *text, const char *voice)
{
	if (!text || !voice)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE spec;
	memset(&spec, 0, sizeof(spec));
	spec.languages = voice;
	if (espeak_SetVoiceByProperties(&spec) != EE_OK)
	{
		espeak_Terminate();
		return -3;
	}

	espeak_ERROR rc = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return rc == EE_OK ? 0 : -4;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// espeak-ng keeps global state
var mu sync.Mutex

// Speak says text aloud with the given espeak voice ("en", "ru", ...) and
// returns once playback has finished.
func Speak(text, voice string) error {
	if text == "" {
		return nil
	}
	if voice == "" {
		voice = "en"
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	mu.Lock()
	defer mu.Unlock()

	if rc := C.companion_say(ctext, cvoice); rc != 0 {
		return fmt.Errorf("espeak failed: %d", int(rc))
	}
	return nil
}

// Voice speaks with a fixed espeak voice.
type Voice string

func (v Voice) Speak(text string) error { return Speak(text, string(v)) }
