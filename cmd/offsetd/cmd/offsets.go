package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugolhafner/extoffset/offset"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	partitionsFlag []int32
	offsetFlag     int64
)

var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "Inspect or overwrite stored offsets",
}

var offsetsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored offsets of partitions",
	Long: `Print the stored offset records of the configured group as YAML.

Examples:
  offsetd offsets get -c offsetd.yaml -t orders -p 0,1,2`,
	RunE: runOffsetsGet,
}

var offsetsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Overwrite the stored offset of partitions",
	Long: `Overwrite the stored offset of partitions. Run it only while no consumer of
the group is running, a running consumer overwrites it on its next flush.

Examples:
  offsetd offsets set -c offsetd.yaml -t orders -p 0 --offset 1200`,
	RunE: runOffsetsSet,
}

func init() {
	for _, c := range []*cobra.Command{offsetsGetCmd, offsetsSetCmd} {
		c.Flags().Int32SliceVarP(&partitionsFlag, "partitions", "p", []int32{0}, "Partitions")
	}
	offsetsSetCmd.Flags().Int64Var(&offsetFlag, "offset", -1, "Next offset to consume")
	_ = offsetsSetCmd.MarkFlagRequired("offset")

	offsetsCmd.AddCommand(offsetsGetCmd)
	offsetsCmd.AddCommand(offsetsSetCmd)
}

// storedOffset is the printed form of an offset record.
type storedOffset struct {
	Topic           string    `yaml:"topic"`
	Partition       int32     `yaml:"partition"`
	Offset          int64     `yaml:"offset"`
	LastFlushOffset int64     `yaml:"lastFlushOffset"`
	Owner           string    `yaml:"owner,omitempty"`
	Count           int64     `yaml:"count"`
	UpdateTime      time.Time `yaml:"updateTime"`
}

func identities(cfg Config) ([]offset.Identity, error) {
	if cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("group and topics are required")
	}

	ids := make([]offset.Identity, 0, len(cfg.Topics)*len(partitionsFlag))
	for _, topic := range cfg.Topics {
		for _, p := range partitionsFlag {
			ids = append(ids, offset.Identity{Cluster: cfg.Cluster, Topic: topic, Partition: p, Group: cfg.Group})
		}
	}
	return ids, nil
}

func withStore(ctx context.Context, fn func(offset.Store) error) error {
	store, err := openStore(ctx, config.Store, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(store)
}

func runOffsetsGet(cmd *cobra.Command, _ []string) error {
	ids, err := identities(config)
	if err != nil {
		return err
	}

	return withStore(
		cmd.Context(), func(store offset.Store) error {
			out := make([]storedOffset, 0, len(ids))
			for _, id := range ids {
				rec, found, err := store.Read(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("read %s-%d: %w", id.Topic, id.Partition, err)
				}
				if !found {
					continue
				}
				out = append(
					out, storedOffset{
						Topic:           rec.Topic,
						Partition:       rec.Partition,
						Offset:          rec.Offset,
						LastFlushOffset: rec.LastFlushOffset,
						Owner:           rec.Owner,
						Count:           rec.Count,
						UpdateTime:      rec.UpdateTime,
					},
				)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	)
}

func runOffsetsSet(cmd *cobra.Command, _ []string) error {
	if offsetFlag < 0 {
		return fmt.Errorf("offset must not be negative, got %d", offsetFlag)
	}

	ids, err := identities(config)
	if err != nil {
		return err
	}

	return withStore(
		cmd.Context(), func(store offset.Store) error {
			now := time.Now()
			for _, id := range ids {
				rec, found, err := store.Read(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("read %s-%d: %w", id.Topic, id.Partition, err)
				}
				if !found {
					rec = offset.Record{
						Cluster:    id.Cluster,
						Topic:      id.Topic,
						Partition:  id.Partition,
						Group:      id.Group,
						CreateTime: now,
					}
				}

				rec.Offset = offsetFlag
				rec.LastFlushOffset = offsetFlag
				rec.Owner = ""
				rec.UpdateTime = now
				if err := store.Upsert(cmd.Context(), rec); err != nil {
					return fmt.Errorf("write %s-%d: %w", id.Topic, id.Partition, err)
				}
				log.Info("Offset overwritten", "topic", id.Topic, "partition", id.Partition, "offset", offsetFlag)
			}
			return nil
		},
	)
}
