// Command stasis-node is a demonstration CLI wiring consensusparams, block,
// blockstore, validator, and ledger together: it opens (or bootstraps) a
// block store, constructs a Ledger over it, and mines a short devnet chain
// signed by the genesis validator set.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stasis-chain/stasis/amount"
	"github.com/stasis-chain/stasis/block"
	"github.com/stasis-chain/stasis/blockstore"
	"github.com/stasis-chain/stasis/consensusparams"
	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/ledger"
	"github.com/stasis-chain/stasis/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	cfg := defaults

	fs := flag.NewFlagSet("stasis-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	validatorCount := fs.Int("dev-validators", 3, "devnet genesis validator count")
	stake := fs.Uint64("dev-stake", 1000, "devnet genesis per-validator freeze stake")
	mineBlocks := fs.Int("mine-blocks", 0, "mine N devnet blocks locally after startup")
	mineExit := fs.Bool("mine-exit", false, "exit immediately after local mining")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := node.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}
	printConfig(stdout, cfg)
	if *dryRun {
		return 0
	}

	genesis, signers := devGenesis(cfg.Network, *validatorCount, amount.Amount(*stake))

	store, err := blockstore.OpenPersistentStore(filepath.Join(cfg.DataDir, "blockstore"))
	if err != nil {
		fmt.Fprintf(stderr, "blockstore open failed: %v\n", err)
		return 2
	}

	l, err := ledger.New(devParams(), store, genesis, nil)
	if err != nil {
		fmt.Fprintf(stderr, "ledger init failed: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "ledger: height=%d tip=%x validators=%d\n",
		l.GetBlockHeight(), l.GetLastBlock().Header.Hash(), len(l.GetValidators(l.GetBlockHeight()+1)))

	if *mineBlocks > 0 {
		mined, err := mineDevBlocks(l, signers, *mineBlocks)
		if err != nil {
			fmt.Fprintf(stderr, "mining failed: %v\n", err)
			return 2
		}
		for _, b := range mined {
			fmt.Fprintf(stdout, "mined: height=%d hash=%x tx_count=%d\n", b.Header.Height, b.Header.Hash(), len(b.Txs))
		}
		if *mineExit {
			return 0
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(stdout, "stasis-node demonstration loop running")
	<-ctx.Done()
	fmt.Fprintln(stdout, "stasis-node demonstration loop stopped")
	return 0
}

// devParams is the fixed parameter set the devnet genesis and miner loop
// share; a real deployment would load this from a network-specific config
// file, out of this demonstration CLI's scope.
func devParams() consensusparams.Params {
	return consensusparams.Params{
		ValidatorCycle:       100000,
		PayoutPeriod:         10,
		BlockInterval:        5,
		SlashPenaltyAmount:   200,
		CommonsBudgetAddress: crypto.ScalarBaseMult(crypto.ScalarFromHash(crypto.HashBytes([]byte("stasis-devnet-commons")))),
		MinFreezeAmount:      500,
		StackMaxTotalSize:    4096,
		StackMaxItemSize:     520,
		BlockRewardAmount:    100,
		CommonsRewardAmount:  10,
	}
}

func printConfig(w io.Writer, cfg node.Config) {
	fmt.Fprintf(w, "config: network=%s datadir=%s bind=%s log_level=%s max_peers=%d\n",
		cfg.Network, cfg.DataDir, cfg.BindAddr, cfg.LogLevel, cfg.MaxPeers)
}

// devValidatorInfo pairs a devnet validator's signing key with its
// pre-image chain, letting mineDevBlocks build a real aggregate signature
// each round.
type devValidatorInfo struct {
	priv   crypto.Scalar
	secret crypto.Hash
}

// mineDevBlocks advances l by n fully-signed devnet blocks, carrying no
// transactions except the coinbase due at payout heights, every
// genesis validator revealing its pre-image for the height and
// contributing to the aggregate Schnorr signature. signers is keyed by
// validator utxo key, matching the order GetValidators returns.
func mineDevBlocks(l *ledger.Ledger, signers map[crypto.Hash]devValidatorInfo, n int) ([]*block.Block, error) {
	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		height := l.GetBlockHeight() + 1
		active := l.GetValidators(height)
		header := block.Header{PrevBlock: l.GetLastBlock().Header.Hash(), Height: height}
		b := block.BuildBlock(header, nil)
		cb, err := l.GetCoinbaseTx(height)
		if err != nil {
			return out, err
		}
		if cb != nil {
			b = block.BuildBlock(header, append(b.Txs, cb))
		}

		preimages := make([]crypto.Hash, len(active))
		for idx, v := range active {
			preimages[idx] = crypto.HashChain(signers[v.UTXOKey].secret, preimageChainLength-height)
		}
		b.Header.Preimages = preimages
		rebuilt := block.BuildBlock(b.Header, b.Txs)
		headerHash := rebuilt.Header.Hash()

		bitmask := block.NewBitmask(len(active))
		sumR := crypto.IdentityPoint()
		sumS := crypto.ZeroScalar()
		for idx, v := range active {
			p := crypto.ScalarFromHash(preimages[idx])
			nonce := crypto.PartialNonce(signers[v.UTXOKey].priv, p, headerHash)
			sumR = sumR.Add(crypto.ScalarBaseMult(nonce))
			sumS = sumS.Add(p)
			bitmask.Set(idx)
		}
		rebuilt.Header.Signature = crypto.Signature{R: sumR, S: sumS}
		rebuilt.Header.Validators = bitmask

		if err := l.AcceptBlock(rebuilt); err != nil {
			return out, err
		}
		out = append(out, rebuilt)
	}
	return out, nil
}
