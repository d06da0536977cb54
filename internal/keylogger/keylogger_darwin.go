//go:build darwin
// +build darwin

package keylogger

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework ApplicationServices

#include <CoreGraphics/CoreGraphics.h>
#include <ApplicationServices/ApplicationServices.h>

extern void goKeyDownCallback(int code);
extern void goTapDisabledCallback(void);

static CFMachPortRef eventTap = NULL;
static CFRunLoopRef eventLoop = NULL;

static CGEventRef eventCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    if (type == kCGEventTapDisabledByTimeout || type == kCGEventTapDisabledByUserInput) {
        if (eventTap != NULL) {
            CGEventTapEnable(eventTap, true);
        }
        goTapDisabledCallback();
        return event;
    }
    if (type != kCGEventKeyDown) {
        return event;
    }
    // Holding a key counts as one keypress.
    if (CGEventGetIntegerValueField(event, kCGKeyboardEventAutorepeat) != 0) {
        return event;
    }

    UniChar chars[4];
    UniCharCount length = 0;
    CGEventKeyboardGetUnicodeString(event, 4, &length, chars);
    goKeyDownCallback(length > 0 ? (int)chars[0] : -1);
    return event;
}

static int createEventTap() {
    CGEventMask eventMask = CGEventMaskBit(kCGEventKeyDown);
    eventTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly,
        eventMask,
        eventCallback,
        NULL
    );
    return eventTap != NULL;
}

static int checkAccessibilityPermissions() {
    return AXIsProcessTrusted();
}

static CFRunLoopSourceRef runLoopSource = NULL;
static volatile int stopRequested = 0;

// prepareEventLoop attaches the tap to the calling thread's run loop.
static void prepareEventLoop() {
    stopRequested = 0;
    runLoopSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, eventTap, 0);
    eventLoop = CFRunLoopGetCurrent();
    CFRunLoopAddSource(eventLoop, runLoopSource, kCFRunLoopCommonModes);
    CGEventTapEnable(eventTap, true);
}

// runEventLoop spins until stopEventLoop is called. A stop that lands before the
// loop is running is caught by the flag within one slice.
static void runEventLoop() {
    while (!stopRequested) {
        CFRunLoopRunInMode(kCFRunLoopDefaultMode, 1.0, false);
    }
    CFRunLoopRemoveSource(eventLoop, runLoopSource, kCFRunLoopCommonModes);
    CFRelease(runLoopSource);
    runLoopSource = NULL;
    CFMachPortInvalidate(eventTap);
    CFRelease(eventTap);
    eventTap = NULL;
    eventLoop = NULL;
}

static void stopEventLoop() {
    stopRequested = 1;
    if (eventTap != NULL) {
        CGEventTapEnable(eventTap, false);
    }
    if (eventLoop != NULL) {
        CFRunLoopStop(eventLoop);
    }
}
*/
import "C"
import (
	"sync"
	"time"
)

var (
	mu       sync.Mutex
	current  *Feed
	loopDone <-chan struct{}
)

//export goKeyDownCallback
func goKeyDownCallback(code C.int) {
	now := time.Now()
	c := NoChar
	if code >= 0 {
		c = uint16(code)
	}

	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		current.deliver(c, now)
	}
}

//export goTapDisabledCallback
func goTapDisabledCallback() {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		current.signalDisabled()
	}
}

// CheckAccessibilityPermissions returns true if the app has accessibility permissions.
func CheckAccessibilityPermissions() bool {
	return C.checkAccessibilityPermissions() != 0
}

// Start installs the event tap on a dedicated OS thread and returns the feed.
// It returns ErrTapFailed when the tap cannot be created.
func Start() (*Feed, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return nil, ErrAlreadyRunning
	}
	if !CheckAccessibilityPermissions() {
		return nil, ErrNoPermission
	}

	setup := func() error {
		if C.createEventTap() == 0 {
			return ErrTapFailed
		}
		C.prepareEventLoop()
		return nil
	}
	done, err := startLoop(setup, func() { C.runEventLoop() })
	if err != nil {
		return nil, err
	}

	current = newFeed()
	loopDone = done
	return current, nil
}

// Stop removes the tap, closes the feed's event channel and waits for the tap thread.
func Stop() {
	mu.Lock()
	C.stopEventLoop()
	if current != nil {
		current.close()
		current = nil
	}
	done := loopDone
	loopDone = nil
	mu.Unlock()

	// Callbacks still draining on the tap thread need mu, so wait outside it.
	if done != nil {
		<-done
	}
}
