// axlisten waits for one incoming AX.25 connection and echoes every
// line back to the caller. Handy as the far end when testing axcall.
package main

import (
	"fmt"
	"net/http"
	"os"

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
	var capture = pflag.String("capture", "", "Record frames to this pcap file (strftime patterns allowed)")
	var metrics = pflag.String("metrics", "", "Serve Prometheus metrics on this address")
	var verbose = pflag.BoolP("verbose", "v", false, "Debug logging")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
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

	log.Info("listening", "me", me)
	var conn, acceptErr = malamute.Accept(me, port, cfg.Options())
	if acceptErr != nil {
		log.Fatal("accept failed", "err", acceptErr)
	}
	defer conn.Close()

	var peer, _ = conn.Peer()
	log.Info("connected", "peer", peer)

	if _, err := conn.Write([]byte("Welcome. Everything you type comes right back.\r")); err != nil {
		log.Fatal("greeting failed", "err", err)
	}

	var buf = make([]byte, 1024)
	for {
		var n, readErr = conn.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			if _, err := conn.Write(buf[:n]); err != nil {
				log.Error("echo failed", "err", err)
				return
			}
		}
		if readErr != nil {
			log.Info("disconnected", "reason", readErr)
			return
		}
	}
}
