// Command sfsutil manages SFS disk images from the shell: formatting a
// fresh volume and moving files in and out of one, the way cmd's disk-image
// utility exposes disko's driver operations as subcommands.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tancredelg/simple-file-system/errs"
	"github.com/tancredelg/simple-file-system/geometry"
	"github.com/tancredelg/simple-file-system/sfs"
)

func main() {
	app := cli.App{
		Usage: "Manage Simple File System disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "disk",
				Aliases: []string{"d"},
				Usage:   "path to the SFS disk image file",
				Value:   "sfs.img",
			},
			&cli.StringFlag{
				Name:  "geometry",
				Usage: "named disk geometry preset",
				Value: "classic",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "create or wipe a disk image",
				Action: runFormat,
			},
			{
				Name:      "ls",
				Usage:     "list every file on the image",
				Action:    runLs,
				ArgsUsage: " ",
			},
			{
				Name:      "stat",
				Usage:     "print a file's size in bytes",
				Action:    runStat,
				ArgsUsage: "NAME",
			},
			{
				Name:      "cat",
				Usage:     "print a file's contents to stdout",
				Action:    runCat,
				ArgsUsage: "NAME",
			},
			{
				Name:      "put",
				Usage:     "copy a host file onto the image",
				Action:    runPut,
				ArgsUsage: "LOCAL_PATH NAME",
			},
			{
				Name:      "get",
				Usage:     "copy a file from the image to the host",
				Action:    runGet,
				ArgsUsage: "NAME LOCAL_PATH",
			},
			{
				Name:      "rm",
				Usage:     "remove a file from the image",
				Action:    runRm,
				ArgsUsage: "NAME",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("sfsutil: %s", err)
	}
}

func layoutFromContext(c *cli.Context) (geometry.Layout, error) {
	return geometry.Named(c.String("geometry"))
}

func runFormat(c *cli.Context) error {
	layout, err := layoutFromContext(c)
	if err != nil {
		return err
	}
	fs := sfs.New(layout)
	return fs.Mksfs(c.String("disk"), true)
}

func mountExisting(c *cli.Context) (*sfs.FileSystem, error) {
	layout, err := layoutFromContext(c)
	if err != nil {
		return nil, err
	}
	fs := sfs.New(layout)
	if err := fs.Mksfs(c.String("disk"), false); err != nil {
		return nil, err
	}
	return fs, nil
}

func runLs(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	layout, err := layoutFromContext(c)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, layout.DirSize)
	for i := uint(0); i < layout.DirSize; i++ {
		name, ok := fs.GetNextFileName()
		if !ok || seen[name] {
			break
		}
		seen[name] = true
		size, err := fs.GetFileSize(name)
		if err != nil {
			return err
		}
		fmt.Printf("%8d  %s\n", size, name)
	}
	return nil
}

func runStat(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	name := c.Args().First()
	if name == "" {
		return errs.ErrInvalidArgument.WithMessage("stat requires a NAME argument")
	}
	size, err := fs.GetFileSize(name)
	if err != nil {
		return err
	}
	fmt.Println(size)
	return nil
}

func readWholeFile(fs *sfs.FileSystem, name string) ([]byte, error) {
	fd, err := fs.Fopen(name)
	if err != nil {
		return nil, err
	}
	defer fs.Fclose(fd) //nolint:errcheck

	size, err := fs.GetFileSize(name)
	if err != nil {
		return nil, err
	}
	if err := fs.Fseek(fd, 0); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	var read int64
	for read < size {
		n, err := fs.Fread(fd, buf[read:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		read += int64(n)
	}
	return buf, nil
}

func runCat(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	name := c.Args().First()
	if name == "" {
		return errs.ErrInvalidArgument.WithMessage("cat requires a NAME argument")
	}
	data, err := readWholeFile(fs, name)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runGet(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	name := c.Args().Get(0)
	localPath := c.Args().Get(1)
	if name == "" || localPath == "" {
		return errs.ErrInvalidArgument.WithMessage("get requires NAME and LOCAL_PATH arguments")
	}
	data, err := readWholeFile(fs, name)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func runPut(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	localPath := c.Args().Get(0)
	name := c.Args().Get(1)
	if localPath == "" || name == "" {
		return errs.ErrInvalidArgument.WithMessage("put requires LOCAL_PATH and NAME arguments")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errs.ErrIO.Wrap(err)
	}

	fd, err := fs.Fopen(name)
	if err != nil {
		return err
	}
	defer fs.Fclose(fd) //nolint:errcheck

	_, err = fs.Fwrite(fd, data)
	return err
}

func runRm(c *cli.Context) error {
	fs, err := mountExisting(c)
	if err != nil {
		return err
	}
	name := c.Args().First()
	if name == "" {
		return errs.ErrInvalidArgument.WithMessage("rm requires a NAME argument")
	}
	return fs.Remove(name)
}
