// Copyright (c) 2020 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.ligato.io/cn-infra/v2/logging"
	"go.ligato.io/cn-infra/v2/logging/logrus"

	"github.com/ligato/srte-agent/pkg/pcep"
	"github.com/ligato/srte-agent/pkg/version"
	"github.com/ligato/srte-agent/plugins/pcepplugin/pcepcalls"
)

var global struct {
	PCE       string
	PCEPort   uint16
	PCC       string
	Stateless bool
	Timeout   time.Duration
	Debug     bool
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pcepctl [OPTIONS]",
		Short: "pcepctl talks PCEP to a PCE",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.Debug {
				logrus.DefaultLogger().SetLevel(logging.DebugLevel)
			}
		},
		SilenceUsage: true,
		Version:      version.Version(),
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&global.PCE, "pce", "127.0.0.1", "PCE address")
	flags.Uint16Var(&global.PCEPort, "pce-port", pcep.DefaultPort, "PCE port")
	flags.StringVar(&global.PCC, "pcc", "", "Local address of the session")
	flags.BoolVar(&global.Stateless, "stateless", false, "Do not announce stateful capability")
	flags.DurationVar(&global.Timeout, "timeout", 5*time.Second, "Timeout of the whole operation")
	flags.BoolVarP(&global.Debug, "debug", "D", false, "Enable debug mode")

	cmd.AddCommand(
		newCapsCommand(),
		newRequestCommand(),
	)
	return cmd
}

func newCapsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show capabilities negotiated with the PCE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *pcep.Session) error {
				var caps pcepcalls.Caps
				if err := pcepcalls.ParseCapabilities(s.PeerOpen(), &caps); err != nil {
					return err
				}
				printCaps(cmd.OutOrStdout(), s, caps)
				return nil
			})
		},
	}
}

func newRequestCommand() *cobra.Command {
	var reqID uint32
	cmd := &cobra.Command{
		Use:   "request <source> <destination>",
		Short: "Request SR path computation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := netip.ParseAddr(args[0])
			if err != nil {
				return errors.Wrap(err, "invalid source")
			}
			dst, err := netip.ParseAddr(args[1])
			if err != nil {
				return errors.Wrap(err, "invalid destination")
			}
			req, err := pcepcalls.FormatRequest(reqID, src, dst)
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *pcep.Session) error {
				if err := s.Send(req); err != nil {
					return err
				}
				path, err := awaitReply(ctx, s, reqID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&reqID, "request-id", 1, "Request identifier")
	return cmd
}

func withSession(fn func(ctx context.Context, s *pcep.Session) error) error {
	pce, err := netip.ParseAddr(global.PCE)
	if err != nil {
		return errors.Wrap(err, "invalid PCE address")
	}
	var pcc netip.Addr
	if global.PCC != "" {
		if pcc, err = netip.ParseAddr(global.PCC); err != nil {
			return errors.Wrap(err, "invalid PCC address")
		}
	}

	if err := pcepcalls.Initialize(logrus.DefaultLogger()); err != nil {
		return err
	}
	defer pcepcalls.Finalize()

	ctx, cancel := context.WithTimeout(context.Background(), global.Timeout)
	defer cancel()

	s, err := pcepcalls.Connect(ctx,
		pcepcalls.PCCOpts{Addr: pcc, ForceStateless: global.Stateless},
		pcepcalls.PCEOpts{Addr: pce, Port: global.PCEPort},
	)
	if err != nil {
		return err
	}
	defer pcepcalls.Disconnect(s)

	return fn(ctx, s)
}

func awaitReply(ctx context.Context, s *pcep.Session, reqID uint32) (*pcepcalls.Path, error) {
	for {
		select {
		case msg, ok := <-s.Events():
			if !ok {
				return nil, errors.Errorf("session closed: %v", s.Err())
			}
			if msg.Type != pcep.MessagePCRep {
				logrus.DefaultLogger().Debugf("skipping %v message", msg.Type)
				continue
			}
			path, err := pcepcalls.ParsePath(msg)
			if err != nil {
				return nil, err
			}
			if path.ReqID != reqID {
				continue
			}
			return path, nil
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "no reply")
		}
	}
}

func printCaps(w io.Writer, s *pcep.Session, caps pcepcalls.Caps) {
	fmt.Fprintf(w, "PCE:       %v\n", s.RemoteAddr())
	fmt.Fprintf(w, "Stateful:  %t\n", caps.IsStateful)
	if open, ok := pcep.Find[*pcep.OpenObject](s.PeerOpen()); ok {
		fmt.Fprintf(w, "Keepalive: %ds\n", open.Keepalive)
		fmt.Fprintf(w, "DeadTimer: %ds\n", open.DeadTimer)
		fmt.Fprintf(w, "SR MSD:    %d\n", open.MSD)
	}
}
