package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDriver launches in-memory processes and records every launch.
type fakeDriver struct {
	mu          sync.Mutex
	launches    int
	specs       []LaunchSpec
	processes   []*fakeProcess
	launchDelay time.Duration
	launchErr   error
	configure   func(*fakePage)
	closed      bool
}

func (d *fakeDriver) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if d.launchDelay > 0 {
		select {
		case <-time.After(d.launchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	d.specs = append(d.specs, spec)
	if d.launchErr != nil {
		return nil, d.launchErr
	}

	page := newFakePage()
	if d.configure != nil {
		d.configure(page)
	}
	proc := &fakeProcess{page: page, spec: spec}
	d.processes = append(d.processes, proc)
	return proc, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *fakeDriver) lastSpec() LaunchSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.specs[len(d.specs)-1]
}

func (d *fakeDriver) process(i int) *fakeProcess {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processes[i]
}

type fakeProcess struct {
	page     *fakePage
	spec     LaunchSpec
	closes   atomic.Int32
	closeErr error
}

func (p *fakeProcess) Page() Page {
	return p.page
}

func (p *fakeProcess) Close() error {
	p.closes.Add(1)
	p.page.crash()
	return p.closeErr
}

// span is one instrumented page call.
type span struct {
	op         string
	start, end time.Time
}

// fakePage simulates a page. Selectors listed in present exist; waits for
// anything else block until their timeout, like a real browser would.
type fakePage struct {
	mu       sync.Mutex
	url      string
	titles   map[string]string
	present  map[string]bool
	values   map[string]string
	pressed  []string
	scripts  []string
	html     string
	cookies  int
	closed   bool
	opDelay  time.Duration
	block    chan struct{}
	evalFunc func(script string, arg any) (any, error)

	active  atomic.Int32
	overlap atomic.Bool
	spans   []span
}

func newFakePage() *fakePage {
	return &fakePage{
		url:     BlankURL,
		titles:  map[string]string{},
		present: map[string]bool{},
		values:  map[string]string{},
		html:    "<html><head><title>Blank</title></head><body></body></html>",
	}
}

func (p *fakePage) with(selectors ...string) *fakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.present[s] = true
	}
	return p
}

func (p *fakePage) crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// enter instruments a call and applies the configured delay or block.
func (p *fakePage) enter(op string) func() {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	start := time.Now()

	p.mu.Lock()
	delay, block := p.opDelay, p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	return func() {
		end := time.Now()
		p.active.Add(-1)
		p.mu.Lock()
		p.spans = append(p.spans, span{op: op, start: start, end: end})
		p.mu.Unlock()
	}
}

func (p *fakePage) gone() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: page closed", ErrSessionClosed)
	}
	return nil
}

func (p *fakePage) find(selector string, timeout time.Duration) error {
	p.mu.Lock()
	ok := p.present[selector]
	p.mu.Unlock()
	if ok {
		return nil
	}
	time.Sleep(timeout)
	return fmt.Errorf("%w: waiting for locator(%q)", ErrTimeout, selector)
}

func (p *fakePage) Goto(url string, waitUntil string, timeout time.Duration) error {
	defer p.enter("goto")()
	if err := p.gone(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) WaitForLoad(timeout time.Duration) error {
	return p.gone()
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Title() (string, error) {
	if err := p.gone(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.titles[p.url]; ok {
		return t, nil
	}
	if p.url == BlankURL {
		return "", nil
	}
	return "Page " + p.url, nil
}

func (p *fakePage) Click(selector string, timeout time.Duration) error {
	defer p.enter("click")()
	if err := p.gone(); err != nil {
		return err
	}
	return p.find(selector, timeout)
}

func (p *fakePage) Fill(selector, value string, timeout time.Duration) error {
	defer p.enter("fill")()
	if err := p.find(selector, timeout); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] = value
	return nil
}

func (p *fakePage) Type(selector, text string, delay, timeout time.Duration) error {
	defer p.enter("type")()
	if err := p.find(selector, timeout); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] += text
	return nil
}

func (p *fakePage) Press(selector, key string, timeout time.Duration) error {
	defer p.enter("press")()
	if err := p.find(selector, timeout); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, selector+":"+key)
	return nil
}

func (p *fakePage) SelectOption(selector, value string, timeout time.Duration) ([]string, error) {
	defer p.enter("select")()
	if err := p.find(selector, timeout); err != nil {
		return nil, err
	}
	return []string{value}, nil
}

func (p *fakePage) WaitForSelector(selector string, timeout time.Duration) error {
	defer p.enter("wait")()
	if err := p.gone(); err != nil {
		return err
	}
	return p.find(selector, timeout)
}

func (p *fakePage) Evaluate(script string, arg any) (any, error) {
	defer p.enter("evaluate")()
	if err := p.gone(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	fn := p.evalFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(script, arg)
	}
	return nil, nil
}

func (p *fakePage) Screenshot(fullPage bool, timeout time.Duration) ([]byte, error) {
	defer p.enter("screenshot")()
	if err := p.gone(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake image"), nil
}

func (p *fakePage) Content() (string, error) {
	defer p.enter("content")()
	if err := p.gone(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) CookieCount() (int, error) {
	if err := p.gone(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

func (p *fakePage) recordedSpans() []span {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]span(nil), p.spans...)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testTimeouts keeps page waits short so failure paths run quickly.
func testTimeouts() Timeouts {
	return Timeouts{
		Selector:   50 * time.Millisecond,
		Navigation: 200 * time.Millisecond,
		WaitCap:    100 * time.Millisecond,
		Action:     500 * time.Millisecond,
		CloseWait:  100 * time.Millisecond,
	}
}

func newTestService(t *testing.T, drv *fakeDriver, mutate func(*ServiceOptions)) *Service {
	t.Helper()
	opts := ServiceOptions{
		Driver:      drv,
		ProfileRoot: t.TempDir(),
		Headless:    true,
		Timeouts:    testTimeouts(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	return svc
}
