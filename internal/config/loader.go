package config

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"
)

// Loader fetches the account configuration document.
type Loader interface {
	Load(ctx context.Context) (Document, error)
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads the document from an S3 object.
type S3Loader struct {
	Client S3API
	Bucket string
	Key    string
}

func (l S3Loader) Load(ctx context.Context) (Document, error) {
	out, err := l.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.Key),
	})
	if err != nil {
		return nil, xerrors.Errorf("get s3://%s/%s: %w", l.Bucket, l.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, xerrors.Errorf("read s3://%s/%s: %w", l.Bucket, l.Key, err)
	}
	return ParseDocument(data)
}

// FileLoader reads the document from the local filesystem.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, xerrors.Errorf("read %s: %w", l.Path, err)
	}
	return ParseDocument(data)
}
