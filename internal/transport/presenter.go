package transport

import "go.uber.org/zap"

// Presenter shows a page to the local subject. Present is called on the
// event loop each time a page loads, before __page_loaded__ is announced.
type Presenter interface {
	Present(subject string, period int, page string) error
}

// LogPresenter presents pages by logging them. Headless participants use it.
type LogPresenter struct {
	log *zap.Logger
}

// NewLogPresenter creates a presenter that logs at info level.
func NewLogPresenter(log *zap.Logger) *LogPresenter {
	return &LogPresenter{log: log}
}

// Present logs the page.
func (p *LogPresenter) Present(subject string, period int, page string) error {
	p.log.Info("page loaded",
		zap.String("subject", subject),
		zap.Int("period", period),
		zap.String("page", page))
	return nil
}

// PresenterFunc adapts a function to a Presenter.
type PresenterFunc func(subject string, period int, page string) error

// Present calls f.
func (f PresenterFunc) Present(subject string, period int, page string) error {
	return f(subject, period, page)
}
