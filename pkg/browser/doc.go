// Package browser manages isolated browser sessions and runs page actions
// against them.
//
// # Architecture
//
// The package is built around four pieces:
//
//  1. Session: one browser process with its own profile directory, a single
//     active page, metadata, and a FIFO action lock
//  2. Registry: the id → Session store with create-or-resume, get, list and close
//  3. Dispatcher: validates an Action, ensures the session exists, and runs the
//     action under the session lock with a bounded wait
//  4. Reaper: a periodic sweep that marks inactive sessions idle, closes the
//     ones past the idle timeout, and prunes closed entries
//
// # Session Lifecycle
//
//  1. Create: Registry.CreateOrResume, or implicitly by the first action on an id
//  2. Use: every action touches lastActivityAt; an idle session becomes active again
//  3. Close: explicit Registry.Close, reaper timeout, or shutdown via CloseAll
//
// A closed session is never handed out again. The next reference to its id
// provisions a fresh process that reuses the same on-disk profile.
//
// # Driver
//
// Browser processes are started through the Driver interface. PlaywrightDriver
// launches one persistent Chromium context per session; tests substitute a fake.
//
// # Example Usage
//
//	svc, err := browser.NewService(browser.ServiceOptions{Driver: drv, ProfileRoot: root})
//	svc.Start()
//	defer svc.Shutdown(context.Background())
//
//	env := svc.Dispatcher.Navigate(ctx, "s1", browser.NavigateAction{URL: "https://example.com"})
//	if !env.Success {
//	    log.Println(env.Error)
//	}
package browser
