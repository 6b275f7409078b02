package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sukirti1329/s3-system/internal/publish"
	"github.com/sukirti1329/s3-system/internal/shared/config"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

func newPublishCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a bucket or object event",
	}
	cmd.PersistentFlags().String("owner", "", "owner id carried in the envelope")
	_ = cmd.MarkPersistentFlagRequired("owner")

	bucketUpdated := &cobra.Command{
		Use:   "bucket-updated BUCKET",
		Short: "Publish BUCKET_UPDATED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versioning, _ := cmd.Flags().GetBool("versioning")
			return a.publish(cmd, config.TopicBucket, events.BucketService,
				events.BucketUpdated{BucketName: args[0], VersioningEnabled: versioning})
		},
	}
	bucketUpdated.Flags().Bool("versioning", true, "versioning flag to cascade to the bucket's objects")

	bucketDeleted := &cobra.Command{
		Use:   "bucket-deleted BUCKET",
		Short: "Publish BUCKET_DELETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd, config.TopicBucket, events.BucketService, events.BucketDeleted{BucketName: args[0]})
		},
	}

	objectCreated := &cobra.Command{
		Use:   "object-created OBJECT_ID",
		Short: "Publish OBJECT_CREATED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			p := events.ObjectCreated{ObjectID: args[0]}
			p.BucketName, _ = f.GetString("bucket")
			p.ObjectKey, _ = f.GetString("key")
			p.Size, _ = f.GetInt64("size")
			p.Checksum, _ = f.GetString("checksum")
			p.ContentType, _ = f.GetString("content-type")
			p.Description, _ = f.GetString("description")
			p.Tags, _ = f.GetStringSlice("tags")
			p.AccessLevel, _ = f.GetString("access")
			if f.Changed("versioning") {
				v, _ := f.GetBool("versioning")
				p.VersionEnabled = &v
			}
			if p.BucketName == "" || p.ObjectKey == "" {
				return fmt.Errorf("--bucket and --key are required")
			}
			return a.publish(cmd, config.TopicObject, events.ObjectService, p)
		},
	}
	of := objectCreated.Flags()
	of.String("bucket", "", "bucket name")
	of.String("key", "", "object key")
	of.Int64("size", 0, "size in bytes")
	of.String("checksum", "", "content checksum")
	of.String("content-type", "", "content type")
	of.String("description", "", "description")
	of.StringSlice("tags", nil, "tags")
	of.String("access", "", "PRIVATE, PUBLIC_READ or PUBLIC_READ_WRITE")
	of.Bool("versioning", true, "override the bucket's versioning flag")

	objectUpdated := &cobra.Command{
		Use:   "object-updated OBJECT_ID",
		Short: "Publish OBJECT_UPDATED; only flags that are set are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			p := events.ObjectUpdated{ObjectID: args[0]}
			p.BucketName, _ = f.GetString("bucket")
			p.Size, _ = f.GetInt64("size")
			p.Checksum, _ = f.GetString("checksum")
			p.ObjectKey = changedString(cmd, "key")
			p.Description = changedString(cmd, "description")
			p.AccessLevel = changedString(cmd, "access")
			if f.Changed("tags") {
				tags, _ := f.GetStringSlice("tags")
				tags = append([]string{}, tags...)
				p.Tags = &tags
			}
			return a.publish(cmd, config.TopicObject, events.ObjectService, p)
		},
	}
	uf := objectUpdated.Flags()
	uf.String("bucket", "", "bucket name")
	uf.Int64("size", 0, "size of the new content")
	uf.String("checksum", "", "checksum of the new content")
	uf.String("key", "", "new object key")
	uf.String("description", "", "new description")
	uf.String("access", "", "new access level")
	uf.StringSlice("tags", nil, "replace the tag set; pass --tags= to clear it")

	objectDeleted := &cobra.Command{
		Use:   "object-deleted OBJECT_ID",
		Short: "Publish OBJECT_DELETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, _ := cmd.Flags().GetString("bucket")
			return a.publish(cmd, config.TopicObject, events.ObjectService,
				events.ObjectDeleted{ObjectID: args[0], BucketName: bucket})
		},
	}
	objectDeleted.Flags().String("bucket", "", "bucket name")

	cmd.AddCommand(bucketUpdated, bucketDeleted, objectCreated, objectUpdated, objectDeleted)
	return cmd
}

func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func (a *app) publish(cmd *cobra.Command, topicKey string, source events.Source, p events.Payload) error {
	owner, _ := cmd.Flags().GetString("owner")
	topics, err := config.LoadTopics(a.v.GetString("events-config"))
	if err != nil {
		return err
	}

	sink, closer, err := a.newSink(a.brokers())
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	env := events.New(source, owner, p)
	pub := publish.New(sink, topics, logger.Discard())
	if err := pub.Publish(cmd.Context(), topicKey, env.PartitionKey(), env); err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{
		"event_id":   env.ID,
		"event_type": string(env.Type),
		"key":        env.PartitionKey(),
	})
}
