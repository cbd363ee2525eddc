//go:build integration

package integration

import (
	"context"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eliteGoblin/focusd/app_lock/internal/daemon"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

const masterSecret = "correct horse"

// scriptedPrompter answers every challenge with the same secret.
type scriptedPrompter struct {
	answer string
	calls  atomic.Int32
}

func (p *scriptedPrompter) PromptSecret(context.Context, domain.PromptRequest) (string, bool, error) {
	p.calls.Add(1)
	return p.answer, true, nil
}

var _ = Describe("Interception loop", func() {
	var (
		store    *infra.Store
		pm       *infra.ProcessManagerImpl
		prompter *scriptedPrompter
		monitor  *daemon.Monitor
		sleepBin string
		cancel   context.CancelFunc
		children []*exec.Cmd
	)

	spawn := func() *exec.Cmd {
		cmd := exec.Command(sleepBin, "30")
		Expect(cmd.Start()).To(Succeed())
		children = append(children, cmd)
		// Reap in the background so a killed child does not linger as a zombie.
		go func() { _ = cmd.Wait() }()
		return cmd
	}

	startMonitor := func() {
		interceptor := usecase.NewInterceptor(pm, prompter, store, store, store, zap.NewNop(),
			usecase.InterceptorConfig{GracePeriod: 500 * time.Millisecond, UserName: "tester"})
		monitor = daemon.NewMonitor(daemon.MonitorConfig{
			PollInterval:  50 * time.Millisecond,
			RecencyWindow: 5 * time.Second,
		}, pm, store, store, interceptor, nil, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		Expect(monitor.Start(ctx)).To(Succeed())
	}

	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("uses the sleep binary")
		}
		path, err := exec.LookPath("sleep")
		if err != nil {
			Skip("sleep not found")
		}
		sleepBin, err = infra.NormalizeExecutablePath(path)
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.OpenStore(infra.StoreOptions{DataDir: GinkgoT().TempDir(), BcryptCost: bcrypt.MinCost})
		Expect(err).NotTo(HaveOccurred())

		ctx := context.Background()
		Expect(store.SetMasterSecret(ctx, masterSecret)).To(Succeed())
		_, err = store.AddApp(ctx, domain.ProtectedApp{Key: sleepBin, DisplayName: "sleep", Kind: domain.AppKindExecutable, Active: true})
		Expect(err).NotTo(HaveOccurred())

		pm = infra.NewProcessManager()
		prompter = &scriptedPrompter{}
		children = nil
		monitor = nil
	})

	AfterEach(func() {
		if monitor != nil {
			monitor.Stop()
			monitor.Wait()
			cancel()
		}
		for _, c := range children {
			if c.Process != nil {
				_ = c.Process.Kill()
			}
		}
		if store != nil {
			store.Close()
		}
	})

	Context("when the wrong password is given", func() {
		It("closes the launched process and records the denial", func() {
			prompter.answer = "wrong"
			startMonitor()

			child := spawn()
			pid := child.Process.Pid

			Eventually(func() bool { return pm.IsRunning(pid) }, 10*time.Second, 50*time.Millisecond).Should(BeFalse())
			Expect(prompter.calls.Load()).To(BeNumerically("==", 1))

			Eventually(func() []domain.AccessLogEntry {
				entries, _ := store.RecentAttempts(context.Background(), 10)
				return entries
			}, 5*time.Second).Should(HaveLen(1))

			entries, err := store.RecentAttempts(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries[0].Granted).To(BeFalse())
			Expect(entries[0].Reason).To(Equal(domain.ReasonWrongSecret))
			Expect(entries[0].UserName).To(Equal("tester"))
		})
	})

	Context("when the correct password is given", func() {
		It("lets the process keep running", func() {
			prompter.answer = masterSecret
			startMonitor()

			child := spawn()
			pid := child.Process.Pid

			Eventually(func() int32 { return prompter.calls.Load() }, 10*time.Second, 50*time.Millisecond).Should(BeNumerically("==", 1))
			Consistently(func() bool { return pm.IsRunning(pid) }, time.Second, 100*time.Millisecond).Should(BeTrue())

			entries, err := store.RecentAttempts(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Granted).To(BeTrue())
		})
	})

	Context("when the process was already running at startup", func() {
		It("never challenges it", func() {
			prompter.answer = "wrong"
			child := spawn()
			startMonitor()

			Consistently(func() int32 { return prompter.calls.Load() }, time.Second, 100*time.Millisecond).Should(BeZero())
			Expect(pm.IsRunning(child.Process.Pid)).To(BeTrue())
		})
	})

	Context("when protection is disabled", func() {
		It("does not challenge new launches", func() {
			prompter.answer = "wrong"
			Expect(store.SetSetting(context.Background(), domain.SettingProtectionEnabled, "false")).To(Succeed())
			startMonitor()

			child := spawn()
			Consistently(func() int32 { return prompter.calls.Load() }, time.Second, 100*time.Millisecond).Should(BeZero())
			Expect(pm.IsRunning(child.Process.Pid)).To(BeTrue())
		})
	})
})
