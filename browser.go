package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Session owns the Chrome instance and the product page being watched. Its
// context is cancelled when the user closes the browser.
type Session struct {
	config   *Config
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger
	stopChan chan bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(ctx context.Context, config *Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		config:   config,
		logger:   logger,
		stopChan: make(chan bool, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context is cancelled when the session ends or the browser goes away.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Page returns the opened page bound to the session context.
func (s *Session) Page() *rod.Page {
	if s.page == nil {
		return nil
	}
	return s.page.Context(s.ctx)
}

func (s *Session) Close() {
	select {
	case s.stopChan <- true:
	default:
	}
	s.cancel()

	fmt.Println(T("cleaning_up"))

	if s.page != nil {
		s.page.Close()
	}

	// An attached browser belongs to someone else; only the tab is ours.
	if s.browser != nil && s.launcher != nil {
		s.browser.Close()
	}

	if s.launcher != nil {
		s.launcher.Cleanup()
	}

	fmt.Println(T("browser_destroyed"))
}

func (s *Session) isBrowserAlive() bool {
	if s.browser == nil {
		return false
	}

	if _, err := s.browser.Version(); err != nil {
		s.logger.Debug("browser version check failed", zap.Error(err))
		return false
	}

	if s.page != nil {
		if _, err := s.page.Info(); err != nil {
			s.logger.Debug("page info check failed", zap.Error(err))
			return false
		}
	}

	return true
}

func (s *Session) watchBrowser() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.isBrowserAlive() {
				fmt.Println(T("browser_closed_by_user"))
				s.cancel()
				return
			}
		}
	}
}

// Setup attaches to the browser at RemoteURL when set, and otherwise
// launches a local Chrome with the configured profile.
func (s *Session) Setup() error {
	if s.config.RemoteURL != "" {
		return s.attach()
	}
	return s.launch()
}

func (s *Session) attach() error {
	fmt.Printf(T("browser_attaching")+"\n", s.config.RemoteURL)

	u, err := launcher.ResolveURL(s.config.RemoteURL)
	if err != nil {
		return fmt.Errorf("failed to resolve remote browser %s: %w", s.config.RemoteURL, err)
	}

	s.browser = rod.New().ControlURL(u)
	if err := s.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	go s.watchBrowser()
	s.logger.Debug(T("browser_watcher_started"))
	return nil
}

func (s *Session) launch() error {
	fmt.Println(T("browser_launching"))

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	chromePath, chromeExists := launcher.LookPath()

	s.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(s.config.Headless)

	// Must be set before Bin() to be applied.
	if s.config.BrowserProfilePath != "" {
		if err := os.MkdirAll(s.config.BrowserProfilePath, 0755); err != nil {
			return fmt.Errorf("failed to create browser profile dir: %w", err)
		}
		s.launcher = s.launcher.UserDataDir(s.config.BrowserProfilePath)
		s.logger.Debug(T("browser_profile_path_set", s.config.BrowserProfilePath))
	}

	if chromeExists {
		s.launcher = s.launcher.Bin(chromePath)
		fmt.Println(T("browser_using_system_chrome"))
		s.logger.Debug(T("browser_chrome_path_set", chromePath))
	} else {
		fmt.Println(T("browser_chrome_not_found"))
	}

	if runtime.GOOS == "windows" {
		fmt.Println(T("windows_leakless_disabled"))
	}

	u, err := s.launcher.Launch()
	if err != nil {
		if isProfileLockedError(err) {
			return errors.New(T("error_chrome_already_running"))
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.browser = rod.New().ControlURL(u)
	if err := s.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	go s.watchBrowser()
	s.logger.Debug(T("browser_watcher_started"))

	fmt.Println(T("browser_launched"))
	return nil
}

// Open creates a stealth tab, navigates to url and waits for the load event.
func (s *Session) Open(url string) (*rod.Page, error) {
	if s.browser == nil {
		return nil, errors.New("browser is not set up")
	}

	fmt.Printf(T("page_loading")+"\n", url)

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	s.page = page

	if s.config.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.config.UserAgent})
		if err != nil {
			s.logger.Debug("failed to set user agent", zap.Error(err))
		}
	}

	timeout := s.config.LoadTimeout()
	if err := page.Context(s.ctx).Timeout(timeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.Context(s.ctx).Timeout(timeout).WaitLoad(); err != nil {
		// Client-rendered shops often never settle; the watcher picks up the rest.
		s.logger.Warn("page load wait failed", zap.String("url", url), zap.Error(err))
	}

	fmt.Println(T("page_loaded"))
	return s.Page(), nil
}

func isProfileLockedError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Opening in existing browser session") ||
		strings.Contains(msg, "ProcessSingleton") ||
		strings.Contains(msg, "SingletonLock")
}
