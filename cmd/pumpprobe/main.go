package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/scan"
	"github.com/nasa-jpl/pumpprobe/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pumpprobe.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `pumpprobe runs pump-probe imaging scans: it sweeps an optical delay line
and a pump power stage, captures reference and pumped camera frames at every
point, and saves them with their difference and normalized difference.

Usage:
	pumpprobe <command>

Commands:
	run
	scan
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `pumpprobe is configured by pumpprobe.yml in the working directory.  Use
mkconf to write the defaults to it.  For a primer on YAML, see
https://yaml.org/start.html

run serves the instruments and the scan over HTTP at Addr:
	POST /scan/start      start a scan; a JSON body overrides the configured scan
	POST /scan/stop       stop at the next point
	GET  /scan/status     progress and the result of the last scan
	GET  /scan/history    past scans, from the Journal database
	GET  /axes            position controller state
	GET  /axis/{axis}/pos position of the delay or power axis
	POST /axis/{axis}/pos move an axis, {"f64": position}
	GET  /axis/{axis}/state, GET /axis/{axis}/connected
	GET  /lockin/xyr      lock-in outputs
	POST /capture/test    capture one frame and save it as <Output.Name>.png
	GET  /lock, POST /lock  the lock held while a scan runs

scan runs the configured scan in the foreground.  Ctrl-C once stops it after
the current point, twice abandons it.

Output, under Output.Folder, for Output.Name "run":
	ref_run/, pumped_run/, diff_run/, diffNorm_run/
		pwr_<power>_delay_<delay>.dat and a .dat.png render
	run.dat, run.png                       the reference frame of the first point
	protocol_run.png, protocol_run.yml     the scan settings at the first point
	trace_run.csv, trace_run.png           when Trace.Enabled

Output.Overwrite is ask, always or never.  Refusing an overwrite stops the
scan.  Over HTTP nobody can be asked, so ask refuses.

Motion.ReconnectInterval is the wait between attempts to reconnect to the XPS
after a fault; with MaxReconnectDuration and MaxReconnectAttempts at zero it
retries forever, as a scan left overnight should.

Mock: true replaces every instrument with a simulation.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pumpprobe version %v\n", Version)
}

// BuildMux binds every route of the rig
func BuildMux(r *Rig, c Config) chi.Router {
	lk := locker.New()
	lk.ReadsAllowed = true
	lk.DoNotProtect = append(lk.DoNotProtect, "scan/stop")
	r.Session.Locker = lk

	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Use(lk.Check)
	locker.Inject(mux, lk)
	position.HTTP(r.Positions, mux)
	w := scan.HTTPWrapper{Session: r.Session, Defaults: c.Scan(), LockIn: r.LockIn}
	if r.Journal != nil {
		w.History = r.Journal
	}
	w.Bind(mux)
	return mux
}

func run() {
	c := loadconfig()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	rig, err := BuildRig(ctx, c, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(rig, c)}
	go func() {
		<-ctx.Done()
		rig.Session.Stop()
		shut, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shut)
	}()
	log.Println("now listening for requests at ", c.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	rig.Session.Wait()
}

func runscan() {
	c := loadconfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " scanning",
		SuffixAutoColon:   true,
		Message:           "0%",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		log.Fatal(err)
	}

	// the spinner is paused while the operator is asked
	prompt := &persist.Prompt{In: os.Stdin, Out: os.Stderr}
	ask := persist.ConfirmFunc(func(path string) bool {
		spinner.Pause()
		defer spinner.Unpause()
		return prompt.ConfirmOverwrite(path)
	})

	rig, err := BuildRig(ctx, c, ask)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()

	var (
		percent int
		last    string
	)
	result := make(chan scan.Result, 1)
	rig.Session.Observer = scan.FuncObserver{
		OnProgress: func(p int) {
			percent = p
			spinner.Message(fmt.Sprintf("%d%%  %s", percent, last))
		},
		OnStatus: func(msg string) {
			last = msg
			spinner.Message(fmt.Sprintf("%d%%  %s", percent, last))
		},
		OnDone: func(r scan.Result) { result <- r },
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		spinner.Message("stopping after this point, Ctrl-C again to abandon")
		rig.Session.Stop()
		<-sigs
		cancel()
	}()

	if err := spinner.Start(); err != nil {
		log.Fatal(err)
	}
	if _, err := rig.Session.StartScan(c.Scan()); err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	r := <-result
	rig.Session.Wait()
	if r.Err != nil && r.Status() != "stopped" {
		spinner.StopFailMessage(fmt.Sprintf("%s: %v", r, r.Err))
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(r.String())
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "scan":
		runscan()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
