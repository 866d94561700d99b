package scan

import "log"

// Observer is told about the progress of a run.  Calls come from the scan
// worker and must not block for long.
type Observer interface {
	// Progress reports percent complete, 0 to 100
	Progress(percent int)

	// Status reports a human readable state transition
	Status(msg string)

	// Done is called once at the end of a run
	Done(Result)
}

// FuncObserver adapts functions to an Observer.  Nil fields are skipped.
type FuncObserver struct {
	OnProgress func(int)
	OnStatus   func(string)
	OnDone     func(Result)
}

// Progress implements Observer
func (f FuncObserver) Progress(p int) {
	if f.OnProgress != nil {
		f.OnProgress(p)
	}
}

// Status implements Observer
func (f FuncObserver) Status(msg string) {
	if f.OnStatus != nil {
		f.OnStatus(msg)
	}
}

// Done implements Observer
func (f FuncObserver) Done(r Result) {
	if f.OnDone != nil {
		f.OnDone(r)
	}
}

// LogObserver logs status and the result.  Progress is not logged.
type LogObserver struct {
	Logger *log.Logger
}

func (l LogObserver) printf(format string, args ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Progress implements Observer
func (l LogObserver) Progress(int) {}

// Status implements Observer
func (l LogObserver) Status(msg string) { l.printf("%s\n", msg) }

// Done implements Observer
func (l LogObserver) Done(r Result) {
	if r.Err != nil {
		l.printf("scan %s: %s: %v\n", r.RunID, r, r.Err)
		return
	}
	l.printf("scan %s: %s\n", r.RunID, r)
}

// Observers fans out to each of its members
type Observers []Observer

// Progress implements Observer
func (o Observers) Progress(p int) {
	for _, ob := range o {
		ob.Progress(p)
	}
}

// Status implements Observer
func (o Observers) Status(msg string) {
	for _, ob := range o {
		ob.Status(msg)
	}
}

// Done implements Observer
func (o Observers) Done(r Result) {
	for _, ob := range o {
		ob.Done(r)
	}
}
