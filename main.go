package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gluk-w/filessh/internal/config"
	"github.com/gluk-w/filessh/internal/database"
	"github.com/gluk-w/filessh/internal/logging"
	"github.com/gluk-w/filessh/internal/orchestrator"
	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshaudit"
	"github.com/gluk-w/filessh/internal/sshclient"
	"github.com/gluk-w/filessh/internal/sshkeys"
	"github.com/gluk-w/filessh/internal/sshmanager"
	"github.com/gluk-w/filessh/internal/walker"
)

const usage = `Usage: filessh [flags] <command> [args]

Commands:
  ls      [-filter s] <path>     list a directory, optionally only names containing s
  cat     <path>                 print a remote text file
  tree    <path>                 walk a directory tree in parallel
  get     <remote> <local>       download one file
  fetch   <remote-dir> <local>   download a directory tree
  rm      <path>                 delete a file or directory tree
  mv      <old> <new>            rename or move (a bare name stays in the same directory)
  history                        show recent operations
  logs    [-clear]               print the end of the log file, or empty it
  keygen                         create an ed25519 key pair
  init-config                    write an example profiles file

Flags:
`

type globalFlags struct {
	host    string
	port    int
	user    string
	key     string
	cert    string
	profile string
	workers int
	depth   int
	force   bool
	verbose bool
	limit   int
}

func main() {
	var gf globalFlags
	fs := flag.NewFlagSet("filessh", flag.ExitOnError)
	fs.StringVar(&gf.host, "host", "", "Remote host")
	fs.IntVar(&gf.port, "port", 0, "Remote SSH port (default 22)")
	fs.StringVar(&gf.user, "user", "", "Remote user (default $FILESSH_DEFAULT_USER)")
	fs.StringVar(&gf.key, "key", "", "Private key file")
	fs.StringVar(&gf.cert, "cert", "", "OpenSSH certificate for the key")
	fs.StringVar(&gf.profile, "profile", "", "Connection profile name")
	fs.IntVar(&gf.workers, "workers", 0, "Walker workers (default $FILESSH_WORKERS)")
	fs.IntVar(&gf.depth, "depth", -1, "Maximum walk depth: 0 lists only the root, negative is unbounded (default $FILESSH_DOWNLOAD_MAX_DEPTH)")
	fs.BoolVar(&gf.force, "force", false, "Do not ask before deleting")
	fs.BoolVar(&gf.verbose, "v", false, "Copy log output to stderr")
	fs.IntVar(&gf.limit, "n", 20, "Number of entries for history and logs")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	command, args := args[0], args[1:]

	config.Load()
	if gf.workers > 0 {
		config.Cfg.Workers = gf.workers
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "depth" {
			config.Cfg.DownloadMaxDepth = gf.depth
		}
	})
	logging.Init(gf.verbose)
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "logs":
		err = runLogs(args, gf.limit)
	case "history":
		err = runHistory(gf.limit)
	case "keygen":
		err = runKeygen(args)
	case "init-config":
		err = runInitConfig()
	case "ls", "cat", "tree", "get", "fetch", "rm", "mv":
		err = runRemote(ctx, gf, command, args)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Printf("%s: %v", command, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var rerr *remotefs.Error
		if errors.As(err, &rerr) && rerr.Retryable() {
			fmt.Fprintln(os.Stderr, "The connection failed; running the command again may succeed.")
		}
		logging.Close()
		os.Exit(1)
	}
}

func needArgs(command string, args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("usage: filessh %s %s", command, names)
	}
	return nil
}

// resolveProfile merges the named profile with the command-line flags.
func resolveProfile(gf globalFlags) (config.Profile, error) {
	var p config.Profile
	if gf.profile != "" {
		profiles, err := config.LoadProfiles(config.Cfg.ProfilesPath)
		if err != nil {
			return p, err
		}
		var ok bool
		if p, ok = profiles[gf.profile]; !ok {
			return p, fmt.Errorf("profile %q not found in %s", gf.profile, config.Cfg.ProfilesPath)
		}
	}
	p = p.Merge(config.Profile{
		Host: gf.host,
		Port: gf.port,
		User: gf.user,
		Key:  gf.key,
		Cert: gf.cert,
	})
	return p.Resolve(config.Cfg.DefaultUser)
}

// openRecorder sets up the history database. Failures disable history
// instead of failing the command.
func openRecorder() orchestrator.Recorder {
	if config.Cfg.AuditDisabled {
		return nil
	}
	if err := database.Init(); err != nil {
		log.Printf("WARNING: history disabled: %v", err)
		return nil
	}
	if err := sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays); err != nil {
		log.Printf("WARNING: history disabled: %v", err)
		return nil
	}
	a := sshaudit.GetAuditor()
	a.PurgeOlderThan(0)
	return a
}

func runRemote(ctx context.Context, gf globalFlags, command string, args []string) error {
	profile, err := resolveProfile(gf)
	if err != nil {
		return err
	}

	rec := openRecorder()
	defer database.Close()

	session := net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port))
	dialCtx, cancel := context.WithTimeout(ctx, config.Cfg.ConnectTimeout)
	conn, err := sshclient.Dial(dialCtx, profile.Host, profile.Port, sshclient.Credentials{
		User:           profile.User,
		KeyPath:        profile.Key,
		CertPath:       profile.Cert,
		KnownHostsPath: config.Cfg.KnownHosts,
		Timeout:        config.Cfg.ConnectTimeout,
	})
	cancel()
	if err != nil {
		sshaudit.LogConnectionFailed(session, profile.User, err.Error())
		return err
	}
	sshaudit.LogConnection(session, profile.User)

	guardian := sshmanager.NewGuardian(session, conn)
	defer guardian.Close()
	guardian.StartKeepalive(ctx, config.Cfg.KeepaliveInterval)

	orch := orchestrator.New(guardian, orchestrator.OptionsFromConfig(session, rec))
	err = runRemoteCommand(ctx, orch, profile, gf, command, args)
	if gf.verbose {
		sessionReport(os.Stderr, guardian)
	}
	return err
}

func runRemoteCommand(ctx context.Context, orch *orchestrator.Orchestrator, profile config.Profile, gf globalFlags, command string, args []string) error {
	// Relative paths resolve against the profile's starting directory.
	resolve := func(p string) string {
		if profile.Path == "" || path.IsAbs(p) {
			return p
		}
		return remotefs.Join(profile.Path, p)
	}
	pathArg := func() string {
		if len(args) > 0 {
			return resolve(args[0])
		}
		return resolve(".")
	}

	switch command {
	case "ls":
		lsFlags := flag.NewFlagSet("ls", flag.ExitOnError)
		filter := lsFlags.String("filter", "", "Only show names containing this text")
		lsFlags.Parse(args)
		args = lsFlags.Args()
		return runLs(ctx, orch, pathArg(), *filter)
	case "cat":
		if err := needArgs(command, args, 1, "<path>"); err != nil {
			return err
		}
		return runCat(ctx, orch, resolve(args[0]))
	case "tree":
		return runTree(ctx, orch, pathArg())
	case "get":
		if err := needArgs(command, args, 2, "<remote> <local>"); err != nil {
			return err
		}
		return orch.DownloadFile(ctx, resolve(args[0]), args[1])
	case "fetch":
		if err := needArgs(command, args, 2, "<remote-dir> <local>"); err != nil {
			return err
		}
		return runFetch(ctx, orch, resolve(args[0]), args[1], gf.verbose)
	case "rm":
		if err := needArgs(command, args, 1, "<path>"); err != nil {
			return err
		}
		return runRm(ctx, orch, resolve(args[0]), gf.force)
	case "mv":
		if err := needArgs(command, args, 2, "<old> <new>"); err != nil {
			return err
		}
		return runMv(ctx, orch, resolve(args[0]), args[1])
	}
	return nil
}

// sessionReport prints the connection state and its recorded events.
func sessionReport(w io.Writer, g *sshmanager.Guardian) {
	fmt.Fprintf(w, "session %s: %s, %d failed health checks\n",
		g.Name(), g.State(), g.CountEvents(sshmanager.EventHealthCheckFailed))
	for _, t := range g.Transitions() {
		fmt.Fprintf(w, "  %s  state %s -> %s\n", t.Timestamp.Format("15:04:05.000"), t.From, t.To)
	}
	for _, e := range g.Events() {
		fmt.Fprintf(w, "  %s  %s %s\n", e.Timestamp.Format("15:04:05.000"), e.Type, e.Details)
	}
}

func runLs(ctx context.Context, orch *orchestrator.Orchestrator, p, filter string) error {
	dir, entries, err := orch.ListDirectory(ctx, p)
	if err != nil {
		return err
	}
	entries = orchestrator.FilterByName(entries, filter)
	fmt.Println(dir)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		name := e.Name
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.PermString(), e.TypeLabel(), e.Attrs.Owner, e.HumanSize(), e.ModTimeString(), name)
	}
	return tw.Flush()
}

func runCat(ctx context.Context, orch *orchestrator.Orchestrator, p string) error {
	content, text, err := orch.ReadFile(ctx, p)
	if err != nil {
		return err
	}
	if !text {
		return fmt.Errorf("%s is not a text file, use get to download it", p)
	}
	fmt.Print(content)
	return nil
}

func runTree(ctx context.Context, orch *orchestrator.Orchestrator, root string) error {
	var paths []string
	failures := 0
	err := orch.Tree(ctx, root, walker.Depth(config.Cfg.DownloadMaxDepth), func(e remotefs.Entry, err error) {
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			return
		}
		p := e.Path
		if e.IsDir() {
			p += "/"
		}
		paths = append(paths, p)
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Println(p)
	}
	fmt.Fprintf(os.Stderr, "%d entries, %d unreadable directories\n", len(paths), failures)
	return nil
}

var spinnerFrames = []rune(`|/-\`)

// spinner animates a progress indicator on one terminal line.
type spinner struct {
	w      io.Writer
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	width  int // written only by the ticker goroutine
}

func startSpinner(ctx context.Context, w io.Writer, label string, interval time.Duration) *spinner {
	sctx, cancel := context.WithCancel(ctx)
	s := &spinner{w: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		orchestrator.Ticker(sctx, interval, func(tick int) {
			frame := fmt.Sprintf("Scanning %s %c", label, spinnerFrames[tick%len(spinnerFrames)])
			s.width = len(frame)
			fmt.Fprint(w, "\r"+frame)
		})
	}()
	return s
}

// stop waits for the last frame to be written, then blanks the line. Output
// printed after stop returns is never overwritten.
func (s *spinner) stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if s.width > 0 {
			fmt.Fprint(s.w, "\r"+strings.Repeat(" ", s.width)+"\r")
		}
	})
}

func runFetch(ctx context.Context, orch *orchestrator.Orchestrator, remote, local string, verbose bool) error {
	// The spinner covers the walk, which reports nothing until it is done.
	spin := startSpinner(ctx, os.Stderr, remote, 150*time.Millisecond)
	defer spin.stop()

	for ev := range orch.DownloadFolder(ctx, remote, local) {
		switch ev.Type {
		case orchestrator.EventStarted:
			spin.stop()
			fmt.Printf("Downloading %d files from %s to %s\n", ev.Total, remote, local)
		case orchestrator.EventNextEntries:
			if verbose && len(ev.Entries) > 1 {
				var names []string
				for _, e := range ev.Entries[1:] {
					names = append(names, e.Name)
				}
				fmt.Fprintf(os.Stderr, "  up next: %s\n", strings.Join(names, ", "))
			}
		case orchestrator.EventProgressed:
			if ev.Err != nil {
				fmt.Printf("[%3.0f%%] FAILED %s: %v\n", ev.Fraction*100, ev.Path, ev.Err)
			} else {
				fmt.Printf("[%3.0f%%] %s\n", ev.Fraction*100, ev.Path)
			}
		case orchestrator.EventCompleted:
			fmt.Printf("Done: %d files downloaded, %d failed\n", ev.Done-ev.Failed, ev.Failed)
			if ev.Failed > 0 {
				return fmt.Errorf("%d files failed", ev.Failed)
			}
		case orchestrator.EventFailed:
			spin.stop()
			return ev.Err
		}
	}
	return nil
}

// lookup finds the entry for p by listing its parent directory.
func lookup(ctx context.Context, orch *orchestrator.Orchestrator, p string) (remotefs.Entry, error) {
	clean := path.Clean(p)
	if clean == "/" || clean == "." {
		return remotefs.Entry{}, fmt.Errorf("refusing to operate on %s", clean)
	}
	parent, name := path.Split(clean)
	_, entries, err := orch.ListDirectory(ctx, parent)
	if err != nil {
		return remotefs.Entry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return remotefs.Entry{}, fmt.Errorf("%s: no such file or directory", p)
}

func runRm(ctx context.Context, orch *orchestrator.Orchestrator, p string, force bool) error {
	entry, err := lookup(ctx, orch, p)
	if err != nil {
		return err
	}
	if !force && !confirm(fmt.Sprintf("Delete %s %s", strings.ToLower(entry.TypeLabel()), entry.Path)) {
		return errors.New("aborted")
	}
	if err := orch.DeleteEntry(ctx, entry); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", entry.Path)
	return nil
}

func confirm(question string) bool {
	fmt.Printf("%s? [y/N] ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runMv(ctx context.Context, orch *orchestrator.Orchestrator, oldPath, newPath string) error {
	if !strings.Contains(newPath, "/") {
		entry := remotefs.Entry{Name: path.Base(oldPath), Path: oldPath}
		if err := orch.Rename(ctx, path.Dir(oldPath), entry, newPath); err != nil {
			return err
		}
	} else if err := orch.MoveEntry(ctx, oldPath, newPath); err != nil {
		return err
	}
	fmt.Printf("Moved %s -> %s\n", oldPath, newPath)
	return nil
}

func runLogs(args []string, n int) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	clearLog := fs.Bool("clear", false, "Empty the log file")
	fs.Parse(args)
	if *clearLog {
		if err := logging.Clear(); err != nil {
			return err
		}
		fmt.Println("Log cleared")
		return nil
	}

	tail, err := logging.ReadTail(n)
	if err != nil {
		return err
	}
	if tail != "" {
		fmt.Println(tail)
	}
	return nil
}

func runHistory(n int) error {
	rec := openRecorder()
	defer database.Close()
	if rec == nil {
		return errors.New("history is disabled")
	}

	res, err := sshaudit.GetAuditor().Query(sshaudit.QueryOptions{Limit: n})
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tEVENT\tSTATUS\tPATH\tTOTALS")
	for _, e := range res.Entries {
		target := e.Path
		if e.Target != "" {
			target += " -> " + e.Target
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Session, e.EventType, e.Status, target, sshaudit.Summary(e.Files, e.Bytes))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.Total > int64(len(res.Entries)) {
		fmt.Printf("(%d of %d entries, use -n for more)\n", len(res.Entries), res.Total)
	}
	fmt.Printf("History is kept for %d days.\n", sshaudit.GetAuditor().RetentionDays())
	return nil
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	dir := fs.String("dir", config.Cfg.DataDir(), "Directory for the key pair")
	name := fs.String("name", "id_ed25519", "Private key file name")
	fs.Parse(args)

	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := sshkeys.SaveKeyPair(*dir, *name, priv, pub); err != nil {
		return err
	}
	fingerprint, err := sshkeys.GetPublicKeyFingerprint(pub)
	if err != nil {
		return err
	}
	fmt.Printf("Private key: %s\nFingerprint: %s\nPublic key:  %s", filepath.Join(*dir, *name), fingerprint, pub)
	return nil
}

func runInitConfig() error {
	if err := config.WriteDefaultProfiles(config.Cfg.ProfilesPath); err != nil {
		return err
	}
	fmt.Printf("Wrote example profiles to %s\n", config.Cfg.ProfilesPath)
	return nil
}
