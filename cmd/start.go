package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/hydfs/logger"
	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/node"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
)

var (
	host       string
	port       string
	introducer string
	protocol   string
	suspicion  bool
	dropRate   float64
	storeRoot  string
	filesDir   string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a HyDFS node",
	Long: `Start a HyDFS node and an interactive command shell on stdin.

The first node of a cluster runs as the introducer: give it --port equal
to the introducer address's port. Every other node joins through it.

Examples:
  # Start the introducer
  hydfs start --port=12345

  # Start a second node joining through the introducer
  hydfs start --port=12346 --introducer=127.0.0.1:12345

  # Ping-ack without suspicion, dropping 10% of outbound packets
  hydfs start --port=12347 --protocol=ping --suspicion=false --drop-rate=0.1`,
	Run: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&host, "host", "a", node.DefaultHost, "Address to bind the node to")
	startCmd.Flags().StringVarP(&port, "port", "p", node.DefaultPort, "Port to bind the node to")
	startCmd.Flags().StringVarP(&introducer, "introducer", "i", node.DefaultIntroducer, "Introducer endpoint (host:port)")
	startCmd.Flags().StringVar(&protocol, "protocol", "gossip", "Failure detection protocol: gossip or ping")
	startCmd.Flags().BoolVar(&suspicion, "suspicion", true, "Use the SUSPECT state before declaring nodes dead")
	startCmd.Flags().Float64Var(&dropRate, "drop-rate", 0, "Probability of dropping outbound datagrams (testing)")
	startCmd.Flags().StringVar(&storeRoot, "store-root", node.DefaultStoreRoot, "Block store root directory")
	startCmd.Flags().StringVar(&filesDir, "files-dir", "", "Directory local filenames resolve against")
}

func parseMode(protocol string, suspicion bool) (membership.Mode, error) {
	switch protocol {
	case "gossip":
		if suspicion {
			return membership.GossipSuspicion, nil
		}
		return membership.Gossip, nil
	case "ping", "pingack":
		if suspicion {
			return membership.PingAckSuspicion, nil
		}
		return membership.PingAck, nil
	}
	return 0, fmt.Errorf("unknown protocol %q (want gossip or ping)", protocol)
}

func runStart(cmd *cobra.Command, args []string) {
	logger.Init("", true)

	mode, err := parseMode(protocol, suspicion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config := node.DefaultConfig()
	config.Host = host
	config.Port = port
	config.Introducer = introducer
	config.Mode = mode
	config.DropRate = dropRate
	config.StoreRoot = storeRoot
	config.FilesDir = filesDir

	n, err := node.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
		os.Exit(1)
	}
	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start node: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		runShell(n)
		close(done)
	}()

	select {
	case <-sigChan:
	case <-done:
	}

	logger.Info("Shutting down...")
	if err := n.Stop(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}

// runShell reads commands from stdin until EOF or exit.
func runShell(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("HyDFS shell ready, type 'help' for commands")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		if err := dispatch(n, fields); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func dispatch(n *node.Node, fields []string) error {
	coord := n.Coordinator()
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		printHelp()
	case "create":
		if len(args) != 2 {
			return fmt.Errorf("usage: create <localfilename> <HyDFSfilename>")
		}
		return coord.Create(args[0], args[1])
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <HyDFSfilename> <localfilename>")
		}
		if err := coord.Get(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("fetched %s -> %s\n", args[0], args[1])
	case "append":
		if len(args) != 2 {
			return fmt.Errorf("usage: append <localfilename> <HyDFSfilename>")
		}
		if err := coord.Append(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("appended %s to %s\n", args[0], args[1])
	case "merge":
		if len(args) != 1 {
			return fmt.Errorf("usage: merge <HyDFSfilename>")
		}
		version, err := coord.Merge(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("merged %s, version %d\n", args[0], version)
	case "ls":
		if len(args) != 1 {
			return fmt.Errorf("usage: ls <HyDFSfilename>")
		}
		entries, err := coord.Ls(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("replicas of %s:\n", args[0])
		for _, e := range entries {
			fmt.Printf("  %-24s ring id %20d  holds: %s\n", e.Replica.Addr(), e.RingID, e.Holds)
		}
	case "store":
		fmt.Printf("files stored on %s (ring id %d):\n", n.ID().Addr(), coord.RingID())
		for _, meta := range coord.ListStore() {
			fmt.Printf("  %-32s %8d bytes  version %d\n", meta.Filename, meta.TotalSize, meta.Version)
		}
	case "liststore":
		if len(args) != 1 {
			return fmt.Errorf("usage: liststore <host:port>")
		}
		resp, err := coord.ListStoreRemote(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("files stored on %s (ring id %d):\n", args[0], resp.RingID)
		for _, e := range resp.Entries {
			fmt.Printf("  %-32s %8d bytes  version %d\n", e.Filename, e.Size, e.Version)
		}
	case "getfromreplica":
		if len(args) != 3 {
			return fmt.Errorf("usage: getfromreplica <host:port> <HyDFSfilename> <localfilename>")
		}
		if err := coord.GetFromReplica(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("fetched %s from %s -> %s\n", args[1], args[0], args[2])
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat <localfilename>")
		}
		data, err := os.ReadFile(coord.ResolveLocal(args[0]))
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
	case "join":
		return n.Join()
	case "leave":
		return n.Leave()
	case "list_mem":
		printMembership(n, false)
	case "list_mem_ids":
		printMembership(n, true)
	case "list_self":
		fmt.Printf("%s (ring id %d)\n", n.ID(), coord.RingID())
	case "display_suspects":
		for _, info := range n.Detector().List().Snapshot() {
			if info.Status == membership.Suspect {
				fmt.Printf("  %s incarnation %d\n", info.ID, info.Incarnation)
			}
		}
	case "display_protocol":
		fmt.Println(n.Detector().Mode())
	case "switch":
		if len(args) != 2 {
			return fmt.Errorf("usage: switch <gossip|ping> <suspect|nosuspect>")
		}
		mode, err := parseMode(args[0], args[1] == "suspect")
		if err != nil {
			return err
		}
		n.Detector().Switch(mode)
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func printMembership(n *node.Node, withRingIDs bool) {
	for _, info := range n.Detector().List().Snapshot() {
		if withRingIDs {
			fmt.Printf("  %-32s %-8s ring id %20d\n", info.ID, info.Status, ringIDOf(info.ID))
		} else {
			fmt.Printf("  %-32s %-8s incarnation %d heartbeat %d\n", info.ID, info.Status, info.Incarnation, info.Heartbeat)
		}
	}
}

func ringIDOf(id membership.NodeId) uint64 {
	return ring.NodePosition(id)
}

func printHelp() {
	fmt.Print(`commands:
  create <local> <hydfs>                 create a HyDFS file from a local file
  get <hydfs> <local>                    fetch a HyDFS file into a local file
  append <local> <hydfs>                 append a local file's contents
  merge <hydfs>                          merge all replica copies into one order
  ls <hydfs>                             show which replicas hold the file
  store                                  list files stored on this node
  liststore <host:port>                  list files stored on another node
  getfromreplica <host:port> <hydfs> <local>  fetch one replica's copy
  cat <local>                            print a local file
  join | leave                           announce to / depart from the cluster
  list_mem | list_mem_ids | list_self    membership views
  display_suspects | display_protocol    failure detector state
  switch <gossip|ping> <suspect|nosuspect>  change the detection protocol
  exit
`)
}
