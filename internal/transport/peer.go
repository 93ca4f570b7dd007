package transport

import (
	"fmt"
	"os"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/util"
)

// Both DataChannels are pre-negotiated so that neither side relies on
// OnDataChannel: the IDs below are fixed on both ends.
const (
	reliableID   uint16 = 0
	unreliableID uint16 = 1
)

// newPeerConnection creates a PeerConnection using the configured ICE servers
// and, if given, the certificate in certFile.
func newPeerConnection(cfg config.Transport) (*webrtc.PeerConnection, error) {
	conf := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	if cfg.CertFile != "" {
		cert, err := loadCertificate(cfg.CertFile)
		if err != nil {
			return nil, err
		}
		conf.Certificates = []webrtc.Certificate{*cert}
	}

	return webrtc.NewPeerConnection(conf)
}

// loadCertificate reads a PEM file holding the certificate and its private
// key, in the layout produced by webrtc.Certificate.PEM.
func loadCertificate(path string) (*webrtc.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	cert, err := webrtc.CertificateFromPEM(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	util.LogDebug("using certificate %s (expires %s)", path, cert.Expires().Format("2006-01-02"))
	return cert, nil
}

// newDataChannel creates the pre-negotiated DataChannel for ch. The reliable
// channel is ordered with unlimited retransmission; the unreliable channel is
// unordered and never retransmits.
func newDataChannel(pc *webrtc.PeerConnection, ch protocol.Channel) (*webrtc.DataChannel, error) {
	negotiated := true
	opts := &webrtc.DataChannelInit{Negotiated: &negotiated}

	if ch.IsReliable() {
		ordered := true
		id := reliableID
		opts.Ordered = &ordered
		opts.ID = &id
	} else {
		ordered := false
		retransmits := uint16(0)
		id := unreliableID
		opts.Ordered = &ordered
		opts.MaxRetransmits = &retransmits
		opts.ID = &id
	}

	return pc.CreateDataChannel(ch.String(), opts)
}
