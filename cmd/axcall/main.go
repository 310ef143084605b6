// axcall opens an AX.25 connected-mode session to a remote station and
// bridges it to stdin/stdout, in the spirit of a very small call(1).
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	malamute "github.com/doismellburning/malamute/src"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Station config file (YAML)")
	var mycall = pflag.StringP("mycall", "m", "", "My callsign-SSID")
	var tcp = pflag.StringP("tcp", "t", "", "host:port of a network KISS TNC, e.g. localhost:8001")
	var serialDev = pflag.StringP("serial", "s", "", "Serial device with a KISS TNC")
	var serialSpeed = pflag.Uint32("serial-speed", 9600, "Serial port speed")
	var extended = pflag.BoolP("extended", "e", false, "Use mod-128 (extended) sequence numbers")
	var srt = pflag.Duration("srt", 0, "Initial smoothed round trip time")
	var t3 = pflag.Duration("t3", 0, "Idle probe interval")
	var mtu = pflag.Int("mtu", 0, "Largest I frame payload to send")
	var capture = pflag.String("capture", "", "Record frames to this pcap file (strftime patterns allowed)")
	var metrics = pflag.String("metrics", "", "Serve Prometheus metrics on this address")
	var verbose = pflag.BoolP("verbose", "v", false, "Debug logging")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] PEERCALL\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	var cfg = &malamute.Config{SerialSpeed: 9600}
	if *configPath != "" {
		var loaded, err = malamute.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("loading config", "err", err)
		}
		cfg = loaded
	}
	if *mycall != "" {
		cfg.MyCall = *mycall
	}
	if *tcp != "" {
		cfg.TCP = *tcp
	}
	if *serialDev != "" {
		cfg.SerialPort = *serialDev
		cfg.SerialSpeed = *serialSpeed
	}
	if *extended {
		cfg.Extended = true
	}
	if *srt > 0 {
		cfg.SRT = malamute.Duration(*srt)
	}
	if *t3 > 0 {
		cfg.T3 = malamute.Duration(*t3)
	}
	if *mtu > 0 {
		cfg.MTU = *mtu
	}
	if *capture != "" {
		cfg.Capture = *capture
	}
	if *metrics != "" {
		cfg.Metrics = *metrics
	}

	var me, meErr = malamute.NewAddr(cfg.MyCall)
	if meErr != nil {
		log.Fatal("bad mycall", "err", meErr)
	}
	var peer, peerErr = malamute.NewAddr(pflag.Arg(0))
	if peerErr != nil {
		log.Fatal("bad peer callsign", "err", peerErr)
	}

	if cfg.Metrics != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics, nil); err != nil {
				log.Error("metrics listener", "err", err)
			}
		}()
	}

	var port, portErr = cfg.OpenPort()
	if portErr != nil {
		log.Fatal("opening KISS port", "err", portErr)
	}

	log.Info("connecting", "me", me, "peer", peer)
	var conn, connErr = malamute.Connect(me, peer, port, cfg.Options())
	if connErr != nil {
		log.Fatal("connect failed", "err", connErr)
	}
	defer conn.Close()
	log.Info("connected")

	// Reader side: stdin lines become writes. CR line endings are the
	// convention on AX.25 links.
	go func() {
		var scanner = bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			var line = append(scanner.Bytes(), '\r')
			if _, err := conn.Write(line); err != nil {
				log.Error("write failed", "err", err)
				return
			}
		}
		conn.Close()
	}()

	var start = time.Now()
	var n, copyErr = io.Copy(os.Stdout, conn)
	if copyErr != nil {
		log.Error("connection lost", "err", copyErr)
	}
	log.Info("disconnected", "bytes", n, "duration", time.Since(start).Round(time.Second))
}
